package training

import (
	"context"
	"fmt"
	"sort"

	"rlvr/internal/agents"
)

// TaskEvaluation is the per-task part of an Evaluation.
type TaskEvaluation struct {
	Task         string  `json:"task"`
	Attempts     int     `json:"attempts"`
	Successes    int     `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	AverageScore float64 `json:"average_score"`
}

// Evaluation is the outcome of a measurement pass.
type Evaluation struct {
	Attempts      int              `json:"attempts"`
	SuccessRate   float64          `json:"success_rate"`
	AverageScore  float64          `json:"average_score"`
	AverageReward float64          `json:"average_reward"`
	PerTask       []TaskEvaluation `json:"per_task"`
}

// Evaluate runs n attempts, cycling through tasks in order, without letting
// the agent learn from them. An empty task list uses the training pool.
// Failed attempts count as score 0. Concurrent calls are safe; each samples
// inputs from its own source.
func (t *Trainer) Evaluate(ctx context.Context, tasks []Task, n int) (*Evaluation, error) {
	if len(tasks) == 0 {
		tasks = t.tasks
	}
	ev := &Evaluation{}
	perTask := make(map[string]*TaskEvaluation, len(tasks))
	scoreSums := make(map[string]float64, len(tasks))
	rng := t.forkRNG()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task := tasks[i%len(tasks)]
		input, expected := task.generate(rng)

		var score, rew float64
		out, err := t.agent.Evaluate(ctx, func(ctx context.Context) (any, error) {
			if task.Execute == nil {
				return nil, fmt.Errorf("task %q has no executor", task.Name)
			}
			return task.Execute(ctx, input, t.agent)
		}, expected)
		if err != nil {
			rew = failedStepReward
		} else {
			score = out.Verification.Score
			rew = out.Reward.Reward
		}

		te, ok := perTask[task.Name]
		if !ok {
			te = &TaskEvaluation{Task: task.Name}
			perTask[task.Name] = te
		}
		te.Attempts++
		scoreSums[task.Name] += score
		ev.Attempts++
		ev.AverageScore += score
		ev.AverageReward += rew
		if score >= agents.SuccessThreshold {
			te.Successes++
			ev.SuccessRate++
		}
	}

	if ev.Attempts > 0 {
		total := float64(ev.Attempts)
		ev.SuccessRate /= total
		ev.AverageScore /= total
		ev.AverageReward /= total
	}
	for name, te := range perTask {
		te.SuccessRate = float64(te.Successes) / float64(te.Attempts)
		te.AverageScore = scoreSums[name] / float64(te.Attempts)
		ev.PerTask = append(ev.PerTask, *te)
	}
	sort.Slice(ev.PerTask, func(i, j int) bool { return ev.PerTask[i].Task < ev.PerTask[j].Task })

	t.log.Info("evaluation finished",
		"attempts", ev.Attempts,
		"success_rate", ev.SuccessRate,
		"average_score", ev.AverageScore)
	return ev, nil
}
