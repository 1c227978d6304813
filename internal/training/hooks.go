package training

import "rlvr/internal/agents"

// DecayStrategy adjusts the agent's learning or exploration rate after each
// episode.
type DecayStrategy interface {
	Apply(episode int, agent *agents.Agent, m Metrics)
}

// NoDecay leaves the agent untouched.
type NoDecay struct{}

func (NoDecay) Apply(int, *agents.Agent, Metrics) {}

// DecayFunc adapts a plain function to DecayStrategy.
type DecayFunc func(episode int, agent *agents.Agent, m Metrics)

func (f DecayFunc) Apply(episode int, agent *agents.Agent, m Metrics) { f(episode, agent, m) }

// Observer is notified as training progresses. Calls happen on the training
// goroutine, so implementations should return quickly.
type Observer interface {
	TrainingStep(runID string, episode, step int, r StepResult)
	TrainingEpisode(runID string, m Metrics)
}

// ExplorationDecay multiplies the agent's exploration rate by (1 - rate)
// after every episode.
func ExplorationDecay(rate float64) DecayStrategy {
	return DecayFunc(func(_ int, a *agents.Agent, _ Metrics) {
		a.SetExplorationRate(a.ExplorationRate() * (1 - rate))
	})
}
