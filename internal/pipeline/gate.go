package pipeline

import (
	"github.com/jackzampolin/scanline/internal/providers"
	"github.com/jackzampolin/scanline/internal/stages"
)

// Decision is the outcome of the confidence gate.
type Decision int

const (
	// Accept keeps the remote result.
	Accept Decision = iota
	// Fallback discards the remote result (if any) and runs local OCR.
	Fallback
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "fallback"
}

// Gate decides whether a remote result is good enough to keep.
type Gate struct {
	Threshold float64
}

// Decide accepts remote iff it exists and its confidence is at least the
// threshold. A missing remote result always falls back.
func (g Gate) Decide(remote *providers.OCRResult) Decision {
	if remote != nil && remote.Confidence >= g.Threshold {
		return Accept
	}
	return Fallback
}

// Record applies the decision to trace: an accepted result skips the
// fallback stage, a rejected remote result is marked low confidence.
func (g Gate) Record(d Decision, remote *providers.OCRResult, trace *stages.Trace) {
	if d == Accept {
		trace.Skip(stages.FallbackCall)
		return
	}
	if remote != nil {
		fields := stages.Fields{}
		if prev, ok := trace.Get(stages.AzureReadCall); ok {
			for k, v := range prev.Fields {
				fields[k] = v
			}
		}
		fields["confidence"] = remote.Confidence
		fields["threshold"] = g.Threshold
		_ = trace.Set(stages.AzureReadCall, stages.StatusLowConfidence, fields)
	}
}
