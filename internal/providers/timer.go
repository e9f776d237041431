package providers

import (
	"context"
	"time"
)

// Timer is the clock used for backoff and poll waits. It satisfies the
// retry-go Timer interface so the same fake drives both in tests.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RealTimer waits on the wall clock.
var RealTimer Timer = realTimer{}

// sleep waits d on t, returning early when ctx is done.
func sleep(ctx context.Context, t Timer, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.After(d):
		return nil
	}
}
