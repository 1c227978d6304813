package config

import (
	"fmt"
	"log/slog"

	"rlvr/internal/agents"
	"rlvr/internal/models"
	"rlvr/internal/reward"
	"rlvr/internal/verify"
)

// BuildAgent constructs the configured agent. opts supplies the model for
// llm_judge verifiers. A composite with no sub-rewards is an error, and an
// exploration_rate of 0 is kept rather than replaced by the default.
func (a AgentConfig) BuildAgent(opts verify.Options, logger *slog.Logger) (*agents.Agent, error) {
	cfg := agents.Config{
		Name:                  a.Name,
		LearningRate:          a.LearningRate,
		MemorySize:            a.MemorySize,
		ExplorationRate:       a.ExplorationRate,
		EnablePatternLearning: a.EnablePatternLearning,
		StrictTimeouts:        a.StrictTimeouts,
		Logger:                logger,
	}

	verifiers := verify.DefaultRegistry()
	for _, spec := range a.Verifiers {
		v, err := verifiers.New(spec.Kind, spec.Config, opts)
		if err != nil {
			return nil, err
		}
		cfg.Verifiers = append(cfg.Verifiers, v)
	}

	rewards := reward.DefaultRegistry()
	if a.Composite != nil {
		c, err := rewards.NewComposite(*a.Composite, a.Rewards)
		if err != nil {
			return nil, fmt.Errorf("build composite reward: %w", err)
		}
		cfg.Rewards = []reward.Reward{c}
	} else {
		for _, spec := range a.Rewards {
			r, err := rewards.New(spec)
			if err != nil {
				return nil, err
			}
			cfg.Rewards = append(cfg.Rewards, r)
		}
	}

	agent := agents.NewAgent(cfg)
	if a.ExplorationRate == 0 {
		agent.SetExplorationRate(0)
	}
	return agent, nil
}

// Registry returns the model registry with any configured providers added.
// OpenAI providers without their own key use the top-level api_key.
func (l LLMConfig) Registry() *models.ModelRegistry {
	r := models.NewModelRegistry()
	for id, p := range l.Providers {
		if p.APIKey == "" && p.Type == models.OpenAIProvider {
			p.APIKey = l.APIKey
		}
		r.Register(id, p)
	}
	return r
}
