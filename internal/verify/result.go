package verify

import (
	"maps"
	"math"
	"slices"
)

// Result is the outcome of a single verification call. Values are produced
// fresh per call and must not be mutated once returned.
type Result struct {
	// Score is the verification score, always in [0, 1].
	Score float64 `json:"score"`

	// Breakdown holds named sub-scores.
	Breakdown map[string]float64 `json:"breakdown,omitempty"`

	// Reason is a human readable explanation of the score.
	Reason string `json:"reason,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// Metadata carries execution statistics such as latency or the verifier name.
	Metadata map[string]any `json:"metadata,omitempty"`

	// LearnedPattern is an opaque tag the agent counts for pattern learning.
	LearnedPattern string `json:"learned_pattern,omitempty"`

	// Confidence is the verifier's certainty in [0, 1], nil when unknown.
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewResult returns a Result with the score clamped into [0, 1].
func NewResult(score float64, reason string) *Result {
	return &Result{Score: Clamp01(score), Reason: reason}
}

// Failed builds the zero-score result used when a verifier or action errors.
func Failed(source string, err error) *Result {
	return &Result{
		Score:    0,
		Reason:   source + " failed: " + err.Error(),
		Errors:   []string{err.Error()},
		Metadata: map[string]any{"source": source},
	}
}

// WithConfidence sets the confidence, clamped into [0, 1], and returns r.
func (r *Result) WithConfidence(c float64) *Result {
	c = Clamp01(c)
	r.Confidence = &c
	return r
}

// ConfidenceOr returns the confidence or def when none was reported.
func (r *Result) ConfidenceOr(def float64) float64 {
	if r == nil || r.Confidence == nil {
		return def
	}
	return *r.Confidence
}

// Clone returns a deep copy so cached results can be handed out safely.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Breakdown = maps.Clone(r.Breakdown)
	out.Metadata = maps.Clone(r.Metadata)
	out.Errors = slices.Clone(r.Errors)
	out.Warnings = slices.Clone(r.Warnings)
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	return &out
}

// Clamp01 bounds v into [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
