package verify

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrUnknownVerifier is returned when no constructor is registered for a kind.
var ErrUnknownVerifier = errors.New("unknown verifier kind")

// Options carries collaborators some constructors need.
type Options struct {
	Model llms.Model
}

// Constructor builds a verifier of one kind.
type Constructor func(cfg Config, opts Options) (Verifier, error)

// Registry maps verifier kinds to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry holding the built-in verifiers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("exact_match", func(cfg Config, _ Options) (Verifier, error) {
		return NewExactMatch(cfg), nil
	})
	r.Register("numeric_tolerance", func(cfg Config, _ Options) (Verifier, error) {
		return NewNumericTolerance(cfg)
	})
	r.Register("contains", func(cfg Config, _ Options) (Verifier, error) {
		return NewContains(cfg), nil
	})
	r.Register("reward_signal", func(cfg Config, _ Options) (Verifier, error) {
		return NewRewardSignal(cfg)
	})
	r.Register("llm_judge", func(cfg Config, opts Options) (Verifier, error) {
		return NewLLMJudge(cfg, opts.Model)
	})
	return r
}

// Register adds or replaces the constructor for kind.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = ctor
}

// New builds a verifier of the given kind. Caching is applied when cfg.EnableCache is set.
func (r *Registry) New(kind string, cfg Config, opts Options) (Verifier, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVerifier, kind)
	}
	if cfg.Name == "" {
		cfg.Name = kind
	}

	v, err := ctor(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("build verifier %s: %w", cfg.Name, err)
	}
	if cfg.EnableCache {
		return WithCache(v, DefaultCacheConfig()), nil
	}
	return v, nil
}

// Kinds lists registered kinds in sorted order.
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
