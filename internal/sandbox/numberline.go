package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"rlvr/internal/loop"
)

// Rewards paid by NumberLine.
const (
	ReachedReward = 1.0
	CloserReward  = 0.5
	FartherReward = -0.5
)

// ErrInvalidMove is returned for actions other than -1 and +1.
var ErrInvalidMove = errors.New("move must be -1 or +1")

// Position is the NumberLine state.
type Position struct {
	Position int `json:"position"`
	Target   int `json:"target"`
}

// Distance is how many moves separate the walker from the target.
func (p Position) Distance() int {
	if d := p.Target - p.Position; d > 0 {
		return d
	}
	return p.Position - p.Target
}

// NumberLine is a one dimensional walk on [-size, size] towards a random
// target. Each episode starts at 0.
type NumberLine struct {
	mu   sync.Mutex
	size int
	rng  *rand.Rand
	pos  Position
}

func NewNumberLine(size int, seed int64) *NumberLine {
	if size < 1 {
		size = 1
	}
	return &NumberLine{size: size, rng: rand.New(rand.NewSource(seed))}
}

func (n *NumberLine) Reset(context.Context) (any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	target := 1 + n.rng.Intn(n.size)
	if n.rng.Intn(2) == 0 {
		target = -target
	}
	n.pos = Position{Target: target}
	return n.pos, nil
}

func (n *NumberLine) Step(_ context.Context, action any) (loop.StepResult, error) {
	move, ok := action.(int)
	if !ok || (move != -1 && move != 1) {
		return loop.StepResult{}, fmt.Errorf("%w: %v", ErrInvalidMove, action)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	before := n.pos.Distance()
	n.pos.Position = max(-n.size, min(n.size, n.pos.Position+move))
	after := n.pos.Distance()

	sr := loop.StepResult{Observation: n.pos, Info: map[string]any{"distance": after}}
	switch {
	case after == 0:
		sr.Reward, sr.Done = ReachedReward, true
	case after < before:
		sr.Reward = CloserReward
	default:
		sr.Reward = FartherReward
	}
	return sr, nil
}

func (n *NumberLine) State() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pos
}

func (n *NumberLine) IsValidAction(action any) bool {
	move, ok := action.(int)
	return ok && (move == -1 || move == 1)
}

func (n *NumberLine) Actions() []any { return []any{-1, 1} }

// GreedyPolicy always moves towards the target.
func GreedyPolicy(_ context.Context, state any) (any, error) {
	p, ok := state.(Position)
	if !ok {
		return nil, fmt.Errorf("unexpected state %T", state)
	}
	if p.Target < p.Position {
		return -1, nil
	}
	return 1, nil
}

// Generator returns a loop.GeneratorFunc that moves greedily but picks a
// random direction with probability difficulty/2.
func Generator(seed int64) loop.GeneratorFunc {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func(ctx context.Context, state any, difficulty float64) (any, error) {
		mu.Lock()
		wander := rng.Float64() < difficulty/2
		dir := 2*rng.Intn(2) - 1
		mu.Unlock()
		if wander {
			return dir, nil
		}
		return GreedyPolicy(ctx, state)
	}
}
