package agents

import (
	"maps"
	"sort"

	"rlvr/internal/verify"
)

// Metrics summarises an agent's recorded attempts.
type Metrics struct {
	TotalAttempts      int       `json:"total_attempts"`
	SuccessfulAttempts int       `json:"successful_attempts"`
	AverageScore       float64   `json:"average_score"`
	AverageReward      float64   `json:"average_reward"`
	ImprovementRate    float64   `json:"improvement_rate"`
	RecentPerformance  []float64 `json:"recent_performance"`
	LearnedPatterns    []string  `json:"learned_patterns"`
	ExplorationRate    float64   `json:"exploration_rate"`
}

// GetMetrics computes metrics over the current memory and performance history.
// ImprovementRate stays 0 until twenty scores have been recorded.
func (a *Agent) GetMetrics() Metrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m := Metrics{
		TotalAttempts:   len(a.memory),
		ExplorationRate: a.cfg.ExplorationRate,
	}
	var scoreSum, rewardSum float64
	for _, e := range a.memory {
		score := e.Verification.Score
		scoreSum += score
		if e.Reward != nil {
			rewardSum += e.Reward.Reward
		}
		if score >= SuccessThreshold {
			m.SuccessfulAttempts++
		}
	}
	if n := len(a.memory); n > 0 {
		m.AverageScore = scoreSum / float64(n)
		m.AverageReward = rewardSum / float64(n)
	}

	if len(a.history) >= 2*trendWindow {
		m.ImprovementRate, _ = trend(a.history)
	}
	recent := a.history[max(0, len(a.history)-trendWindow):]
	m.RecentPerformance = append([]float64(nil), recent...)

	m.LearnedPatterns = make([]string, 0, len(a.patterns))
	for p := range a.patterns {
		m.LearnedPatterns = append(m.LearnedPatterns, p)
	}
	sort.Strings(m.LearnedPatterns)
	return m
}

// StateConfig is the serialisable part of Config. Verifiers and rewards are
// recorded by name only; they are not restored on import.
type StateConfig struct {
	Name                  string   `json:"name"`
	LearningRate          float64  `json:"learning_rate"`
	MemorySize            int      `json:"memory_size"`
	ExplorationRate       float64  `json:"exploration_rate"`
	EnablePatternLearning bool     `json:"enable_pattern_learning"`
	StrictTimeouts        bool     `json:"strict_timeouts"`
	Verifiers             []string `json:"verifiers,omitempty"`
	Rewards               []string `json:"rewards,omitempty"`
}

// State is a snapshot of everything an agent has learned.
type State struct {
	Config             StateConfig    `json:"config"`
	Memory             []Memory       `json:"memory"`
	Patterns           map[string]int `json:"patterns"`
	PerformanceHistory []float64      `json:"performance_history"`
}

// ExportState returns a copy of the agent's learned state.
func (a *Agent) ExportState() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cfg := StateConfig{
		Name:                  a.cfg.Name,
		LearningRate:          a.cfg.LearningRate,
		MemorySize:            a.cfg.MemorySize,
		ExplorationRate:       a.cfg.ExplorationRate,
		EnablePatternLearning: a.cfg.EnablePatternLearning,
		StrictTimeouts:        a.cfg.StrictTimeouts,
	}
	for _, v := range a.cfg.Verifiers {
		cfg.Verifiers = append(cfg.Verifiers, v.Name())
	}
	for _, r := range a.cfg.Rewards {
		cfg.Rewards = append(cfg.Rewards, r.Name())
	}

	return State{
		Config:             cfg,
		Memory:             append([]Memory(nil), a.memory...),
		Patterns:           maps.Clone(a.patterns),
		PerformanceHistory: append([]float64(nil), a.history...),
	}
}

// ImportState replaces memory, patterns and history with s and applies its
// scalar configuration. Memory and history are trimmed to their bounds,
// keeping the newest entries.
func (a *Agent) ImportState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s.Config.MemorySize > 0 {
		a.cfg.MemorySize = s.Config.MemorySize
	}
	if s.Config.LearningRate > 0 {
		a.cfg.LearningRate = s.Config.LearningRate
	}
	if s.Config.ExplorationRate > 0 {
		a.cfg.ExplorationRate = verify.Clamp01(s.Config.ExplorationRate)
	}
	a.cfg.EnablePatternLearning = s.Config.EnablePatternLearning
	a.cfg.StrictTimeouts = s.Config.StrictTimeouts

	mem := s.Memory[max(0, len(s.Memory)-a.cfg.MemorySize):]
	a.memory = append(make([]Memory, 0, len(mem)), mem...)
	for i := range a.memory {
		if a.memory[i].Verification == nil {
			a.memory[i].Verification = verify.NewResult(0, "missing verification")
		}
	}

	a.patterns = make(map[string]int, len(s.Patterns))
	for p, n := range s.Patterns {
		if n > 0 {
			a.patterns[p] = n
		}
	}

	hist := s.PerformanceHistory[max(0, len(s.PerformanceHistory)-historyLimit):]
	a.history = append(make([]float64, 0, historyLimit), hist...)

	a.log.Info("state imported", "memory", len(a.memory), "patterns", len(a.patterns), "history", len(a.history))
}
