// Package sandbox provides small self-contained tasks and environments for
// exercising the trainer and the loop without external services.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"rlvr/internal/agents"
	"rlvr/internal/training"
)

// ErrNotInteger is returned when a model reply holds no integer answer.
var ErrNotInteger = errors.New("reply contains no integer")

// Problem is one arithmetic question.
type Problem struct {
	A  int    `json:"a"`
	B  int    `json:"b"`
	Op string `json:"op"`
}

// Answer computes the exact result. Modulo by zero is never generated.
func (p Problem) Answer() int {
	switch p.Op {
	case "+":
		return p.A + p.B
	case "-":
		return p.A - p.B
	case "*":
		return p.A * p.B
	case "%":
		return p.A % p.B
	}
	return 0
}

func (p Problem) String() string { return fmt.Sprintf("%d %s %d", p.A, p.Op, p.B) }

// Solver answers problems. explore is the agent's current exploration rate.
type Solver interface {
	Solve(ctx context.Context, p Problem, explore float64) (int, error)
}

type opSpec struct {
	name       string
	op         string
	difficulty float64
	maxA, maxB int
}

var operations = []opSpec{
	{name: "addition", op: "+", difficulty: 0.2, maxA: 100, maxB: 100},
	{name: "subtraction", op: "-", difficulty: 0.3, maxA: 100, maxB: 100},
	{name: "multiplication", op: "*", difficulty: 0.6, maxA: 20, maxB: 20},
	{name: "modulo", op: "%", difficulty: 0.8, maxA: 200, maxB: 12},
}

// ArithmeticTasks returns one task per operation. Harder operations carry
// less sampling weight.
func ArithmeticTasks(s Solver) []training.Task {
	tasks := make([]training.Task, 0, len(operations))
	for _, o := range operations {
		tasks = append(tasks, training.Task{
			Name:       o.name,
			Difficulty: o.difficulty,
			Weight:     1 - o.difficulty/2,
			Input: func(rng *rand.Rand) any {
				return Problem{A: rng.Intn(o.maxA + 1), B: 1 + rng.Intn(o.maxB), Op: o.op}
			},
			Execute: func(ctx context.Context, in any, a *agents.Agent) (any, error) {
				p, ok := in.(Problem)
				if !ok {
					return nil, fmt.Errorf("%s: unexpected input %T", o.name, in)
				}
				return s.Solve(ctx, p, a.ExplorationRate())
			},
			Expected: func(in any) any { return in.(Problem).Answer() },
		})
	}
	return tasks
}

// NoisySolver answers correctly except when exploring, where it guesses a
// nearby value.
type NoisySolver struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewNoisySolver(seed int64) *NoisySolver {
	return &NoisySolver{rng: rand.New(rand.NewSource(seed))}
}

func (s *NoisySolver) Solve(_ context.Context, p Problem, explore float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answer := p.Answer()
	if s.rng.Float64() >= explore {
		return answer, nil
	}
	offset := 1 + s.rng.Intn(3)
	if s.rng.Intn(2) == 0 {
		offset = -offset
	}
	return answer + offset, nil
}

const solvePrompt = "Compute %s. Reply with the integer result only."

var integerPattern = regexp.MustCompile(`-?\d+`)

// LLMSolver asks a language model. Exploration raises the sampling temperature.
type LLMSolver struct {
	model llms.Model
}

func NewLLMSolver(model llms.Model) *LLMSolver {
	return &LLMSolver{model: model}
}

func (s *LLMSolver) Solve(ctx context.Context, p Problem, explore float64) (int, error) {
	reply, err := llms.GenerateFromSinglePrompt(ctx, s.model, fmt.Sprintf(solvePrompt, p),
		llms.WithTemperature(explore), llms.WithMaxTokens(16))
	if err != nil {
		return 0, fmt.Errorf("solve %s: %w", p, err)
	}
	return ParseInteger(reply)
}

// ParseInteger returns the first integer in reply.
func ParseInteger(reply string) (int, error) {
	m := integerPattern.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("%w: %q", ErrNotInteger, reply)
	}
	return strconv.Atoi(m)
}
