package reward

import (
	"context"
	"fmt"

	"rlvr/internal/verify"
)

// Calculation is the scalar reward derived from one verification result.
type Calculation struct {
	// Reward is clamped into the producing reward's [MinReward, MaxReward].
	Reward     float64            `json:"reward"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason,omitempty"`
	Breakdown  map[string]float64 `json:"breakdown,omitempty"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

// Reward maps a verification result to a scalar reward.
type Reward interface {
	Name() string
	Weight() float64
	Calculate(ctx context.Context, res *verify.Result) (*Calculation, error)
}

// Config holds the attributes shared by rewards.
type Config struct {
	Name      string  `yaml:"name" json:"name"`
	Weight    float64 `yaml:"weight" json:"weight"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	MinReward float64 `yaml:"min_reward" json:"min_reward"`
	MaxReward float64 `yaml:"max_reward" json:"max_reward"`

	// Params carries kind specific settings for registry-built rewards.
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}

// Base provides the normalisation helpers concrete rewards share.
type Base struct {
	cfg Config
}

// DefaultThreshold is the pass mark used when Config.Threshold is zero.
const DefaultThreshold = 0.7

// NewBase fills zero values: weight 1, threshold DefaultThreshold and range
// [-1, 1]. Scores never fall below 0, so a negative threshold passes every
// score and is how a zero threshold is configured.
func NewBase(cfg Config) Base {
	if cfg.Weight <= 0 {
		cfg.Weight = 1
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MinReward == 0 && cfg.MaxReward == 0 {
		cfg.MinReward, cfg.MaxReward = -1, 1
	}
	if cfg.MinReward > cfg.MaxReward {
		cfg.MinReward, cfg.MaxReward = cfg.MaxReward, cfg.MinReward
	}
	return Base{cfg: cfg}
}

func (b Base) Name() string       { return b.cfg.Name }
func (b Base) Weight() float64    { return b.cfg.Weight }
func (b Base) Threshold() float64 { return b.cfg.Threshold }
func (b Base) Config() Config     { return b.cfg }

// Normalize weights v and clamps it into [MinReward, MaxReward].
func (b Base) Normalize(v float64) float64 {
	return clamp(v*b.cfg.Weight, b.cfg.MinReward, b.cfg.MaxReward)
}

// ApplyThreshold keeps scores at or above the threshold and halves the rest
// with a 0.1 penalty.
func (b Base) ApplyThreshold(score float64) float64 {
	if score >= b.cfg.Threshold {
		return score
	}
	return score*0.5 - 0.1
}

// Binary pays PassReward when the score reaches the threshold and FailReward otherwise.
type Binary struct {
	Base
	pass, fail float64
}

func NewBinary(cfg Config, pass, fail float64) *Binary {
	if cfg.Name == "" {
		cfg.Name = "binary"
	}
	return &Binary{Base: NewBase(cfg), pass: pass, fail: fail}
}

func (r *Binary) Calculate(_ context.Context, res *verify.Result) (*Calculation, error) {
	if res.Score >= r.Threshold() {
		return &Calculation{
			Reward:     r.Normalize(r.pass),
			Confidence: res.ConfidenceOr(0.9),
			Reason:     fmt.Sprintf("score %.2f passed threshold %.2f", res.Score, r.Threshold()),
		}, nil
	}
	return &Calculation{
		Reward:     r.Normalize(r.fail),
		Confidence: res.ConfidenceOr(0.9),
		Reason:     fmt.Sprintf("score %.2f below threshold %.2f", res.Score, r.Threshold()),
	}, nil
}

// Linear passes the verification score straight through Normalize.
type Linear struct {
	Base
}

func NewLinear(cfg Config) *Linear {
	if cfg.Name == "" {
		cfg.Name = "linear"
	}
	return &Linear{Base: NewBase(cfg)}
}

func (r *Linear) Calculate(_ context.Context, res *verify.Result) (*Calculation, error) {
	return &Calculation{
		Reward:     r.Normalize(res.Score),
		Confidence: res.ConfidenceOr(0.8),
		Reason:     fmt.Sprintf("linear reward for score %.2f", res.Score),
	}, nil
}

// Thresholded applies ApplyThreshold before normalising, penalising sub-threshold scores.
type Thresholded struct {
	Base
}

func NewThresholded(cfg Config) *Thresholded {
	if cfg.Name == "" {
		cfg.Name = "thresholded"
	}
	return &Thresholded{Base: NewBase(cfg)}
}

func (r *Thresholded) Calculate(_ context.Context, res *verify.Result) (*Calculation, error) {
	shaped := r.ApplyThreshold(res.Score)
	return &Calculation{
		Reward:     r.Normalize(shaped),
		Confidence: res.ConfidenceOr(0.8),
		Reason:     fmt.Sprintf("thresholded reward for score %.2f", res.Score),
		Breakdown:  map[string]float64{"shaped": shaped},
	}, nil
}

// Func adapts a function into a Reward. The function's output is normalised.
type Func struct {
	Base
	fn func(ctx context.Context, res *verify.Result) (*Calculation, error)
}

func NewFunc(cfg Config, fn func(ctx context.Context, res *verify.Result) (*Calculation, error)) *Func {
	return &Func{Base: NewBase(cfg), fn: fn}
}

func (r *Func) Calculate(ctx context.Context, res *verify.Result) (*Calculation, error) {
	calc, err := r.fn(ctx, res)
	if err != nil {
		return nil, err
	}
	out := *calc
	out.Reward = r.Normalize(calc.Reward)
	return &out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
