package verify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by Run in strict mode when a verifier exceeds its timeout.
var ErrTimeout = errors.New("verifier timed out")

// Verifier scores an output against an optional expectation.
//
// Implementations must be idempotent for identical (output, expected) pairs when
// caching is enabled, and should honour ctx cancellation.
type Verifier interface {
	Name() string
	Weight() float64
	Timeout() time.Duration
	Verify(ctx context.Context, output, expected any) (*Result, error)
}

// Config holds the attributes every verifier shares.
type Config struct {
	Name        string        `yaml:"name" json:"name"`
	Weight      float64       `yaml:"weight" json:"weight"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	EnableCache bool          `yaml:"enable_cache" json:"enable_cache"`

	// Params carries constructor specific settings for registry-built verifiers.
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}

// Base implements the identity half of Verifier. Concrete verifiers embed it
// and provide Verify.
type Base struct {
	cfg Config
}

// NewBase normalises cfg: a negative weight becomes 0 and a zero timeout
// defaults to 30 seconds.
func NewBase(cfg Config) Base {
	if cfg.Weight < 0 {
		cfg.Weight = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return Base{cfg: cfg}
}

func (b Base) Name() string           { return b.cfg.Name }
func (b Base) Weight() float64        { return b.cfg.Weight }
func (b Base) Timeout() time.Duration { return b.cfg.Timeout }
func (b Base) Config() Config         { return b.cfg }

// Func adapts a plain function into a Verifier.
type Func struct {
	Base
	fn func(ctx context.Context, output, expected any) (*Result, error)
}

// NewFunc wraps fn. When cfg.EnableCache is set the returned verifier is cached.
func NewFunc(cfg Config, fn func(ctx context.Context, output, expected any) (*Result, error)) Verifier {
	v := &Func{Base: NewBase(cfg), fn: fn}
	if cfg.EnableCache {
		return WithCache(v, DefaultCacheConfig())
	}
	return v
}

func (f *Func) Verify(ctx context.Context, output, expected any) (*Result, error) {
	return f.fn(ctx, output, expected)
}

// Run invokes v with deadline handling. In advisory mode the configured timeout
// is only recorded in the result metadata. In strict mode the call gets a
// context deadline and ErrTimeout is returned once it passes, even if the
// verifier ignores ctx.
func Run(ctx context.Context, v Verifier, output, expected any, strict bool) (*Result, error) {
	start := time.Now()
	if !strict {
		res, err := v.Verify(ctx, output, expected)
		if err != nil {
			return nil, err
		}
		return annotate(res, v, time.Since(start)), nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.Timeout())
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := v.Verify(ctx, output, expected)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s after %s: %w", v.Name(), v.Timeout(), ErrTimeout)
			}
			return nil, o.err
		}
		return annotate(o.res, v, time.Since(start)), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s after %s: %w", v.Name(), v.Timeout(), ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

func annotate(res *Result, v Verifier, elapsed time.Duration) *Result {
	if res == nil {
		res = NewResult(0, "verifier returned no result")
	}
	out := res.Clone()
	out.Score = Clamp01(out.Score)
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 3)
	}
	out.Metadata["verifier"] = v.Name()
	out.Metadata["timeout_ms"] = v.Timeout().Milliseconds()
	out.Metadata["elapsed_ms"] = elapsed.Milliseconds()
	return out
}
