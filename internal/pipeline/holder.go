package pipeline

import "sync/atomic"

// Holder publishes the current Pipeline to concurrent readers. A config
// reload stores a new Pipeline; invocations already running keep the one
// they loaded.
type Holder struct {
	p atomic.Pointer[Pipeline]
}

// NewHolder creates a Holder, optionally with an initial pipeline.
func NewHolder(p *Pipeline) *Holder {
	h := &Holder{}
	if p != nil {
		h.p.Store(p)
	}
	return h
}

// Load returns the current pipeline, or nil before the first Store.
func (h *Holder) Load() *Pipeline {
	if h == nil {
		return nil
	}
	return h.p.Load()
}

// Store replaces the current pipeline.
func (h *Holder) Store(p *Pipeline) {
	h.p.Store(p)
}
