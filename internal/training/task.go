package training

import (
	"context"
	"math/rand"

	"rlvr/internal/agents"
)

// Task is one kind of problem the trainer samples from.
type Task struct {
	Name       string
	Difficulty float64
	// Weight is the relative probability of sampling this task.
	Weight float64

	// Input generates a fresh problem instance.
	Input func(rng *rand.Rand) any
	// Execute produces the agent's answer for input.
	Execute func(ctx context.Context, input any, agent *agents.Agent) (any, error)
	// Expected resolves the reference answer. It may be nil.
	Expected func(input any) any
}

// pickTask samples by weight, falling back to uniform when no task has a
// positive weight.
func pickTask(rng *rand.Rand, tasks []Task) Task {
	var total float64
	for _, t := range tasks {
		if t.Weight > 0 {
			total += t.Weight
		}
	}
	if total <= 0 {
		return tasks[rng.Intn(len(tasks))]
	}

	r := rng.Float64() * total
	for _, t := range tasks {
		if t.Weight <= 0 {
			continue
		}
		r -= t.Weight
		if r < 0 {
			return t
		}
	}
	// rounding can leave r at exactly 0 after the last positive weight
	for i := len(tasks) - 1; i >= 0; i-- {
		if tasks[i].Weight > 0 {
			return tasks[i]
		}
	}
	return tasks[len(tasks)-1]
}

func (t Task) generate(rng *rand.Rand) (input, expected any) {
	if t.Input != nil {
		input = t.Input(rng)
	}
	if t.Expected != nil {
		expected = t.Expected(input)
	}
	return input, expected
}
