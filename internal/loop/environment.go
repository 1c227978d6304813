package loop

import "context"

// Environment is the pull-based world a Loop drives an agent through. It is
// reset at the start of every episode and stepped until it reports Done or
// the step budget runs out.
type Environment interface {
	Reset(ctx context.Context) (any, error)
	Step(ctx context.Context, action any) (StepResult, error)
	State() any
	IsValidAction(action any) bool
}

// ActionSpace is implemented by environments with a finite action set. The
// loop draws random actions from it while exploring.
type ActionSpace interface {
	Actions() []any
}

// StepResult is what an environment returns for one action.
type StepResult struct {
	Observation any            `json:"observation"`
	Reward      float64        `json:"reward"`
	Done        bool           `json:"done"`
	Info        map[string]any `json:"info,omitempty"`
}

// Input is what the agent is told about each step.
type Input struct {
	State  any `json:"state"`
	Action any `json:"action"`
}

// PolicyFunc chooses an action for the current state.
type PolicyFunc func(ctx context.Context, state any) (any, error)

// GeneratorFunc synthesises an action of roughly the given difficulty in [0, 1].
type GeneratorFunc func(ctx context.Context, state any, difficulty float64) (any, error)
