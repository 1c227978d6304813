package reward

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rlvr/internal/verify"
)

// ErrUnknownReward is returned when no constructor is registered for a kind.
var ErrUnknownReward = errors.New("unknown reward kind")

// Spec names a reward kind together with its configuration.
type Spec struct {
	Kind   string `yaml:"kind" json:"kind"`
	Config `yaml:",inline"`
}

// Constructor builds a reward of one kind.
type Constructor func(cfg Config) (Reward, error)

// Registry maps reward kinds to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry holds binary, linear and thresholded rewards. Binary reads
// pass_reward (default 1) and fail_reward (default -0.5) from Params.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("binary", func(cfg Config) (Reward, error) {
		pass, fail := 1.0, -0.5
		if v, ok := cfg.Params["pass_reward"]; ok {
			f, err := verify.ToFloat(v)
			if err != nil {
				return nil, fmt.Errorf("pass_reward: %w", err)
			}
			pass = f
		}
		if v, ok := cfg.Params["fail_reward"]; ok {
			f, err := verify.ToFloat(v)
			if err != nil {
				return nil, fmt.Errorf("fail_reward: %w", err)
			}
			fail = f
		}
		return NewBinary(cfg, pass, fail), nil
	})
	r.Register("linear", func(cfg Config) (Reward, error) {
		return NewLinear(cfg), nil
	})
	r.Register("thresholded", func(cfg Config) (Reward, error) {
		return NewThresholded(cfg), nil
	})
	return r
}

func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = ctor
}

// New builds a single reward from spec.
func (r *Registry) New(spec Spec) (Reward, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReward, spec.Kind)
	}
	cfg := spec.Config
	if cfg.Name == "" {
		cfg.Name = spec.Kind
	}
	rw, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("build reward %s: %w", cfg.Name, err)
	}
	return rw, nil
}

// NewComposite builds every sub-reward from specs and combines them.
func (r *Registry) NewComposite(cfg CompositeConfig, specs []Spec) (*Composite, error) {
	subs := make([]Reward, 0, len(specs))
	for _, s := range specs {
		rw, err := r.New(s)
		if err != nil {
			return nil, err
		}
		subs = append(subs, rw)
	}
	return NewComposite(cfg, subs...)
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
