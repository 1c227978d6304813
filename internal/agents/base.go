package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rlvr/internal/reward"
	"rlvr/internal/stats"
	"rlvr/internal/verify"
)

const (
	DefaultMemorySize      = 1000
	DefaultExplorationRate = 0.1
	DefaultLearningRate    = 0.01

	// SuccessThreshold is the verification score counted as a successful attempt.
	SuccessThreshold = 0.7

	historyLimit   = 100
	trendWindow    = 10
	minExploration = 0.05
	maxExploration = 0.3
)

// Config describes an agent and the scoring units it learns from.
type Config struct {
	Name      string
	Verifiers []verify.Verifier
	Rewards   []reward.Reward

	LearningRate          float64
	MemorySize            int
	ExplorationRate       float64
	EnablePatternLearning bool

	// StrictTimeouts enforces each verifier's Timeout instead of only recording it.
	StrictTimeouts bool

	Logger *slog.Logger
}

// DefaultConfig returns a config with pattern learning enabled and default
// memory size, learning and exploration rates.
func DefaultConfig(name string) Config {
	return Config{
		Name:                  name,
		LearningRate:          DefaultLearningRate,
		MemorySize:            DefaultMemorySize,
		ExplorationRate:       DefaultExplorationRate,
		EnablePatternLearning: true,
	}
}

// Memory is one recorded attempt.
type Memory struct {
	ID           string              `json:"id"`
	Input        any                 `json:"input,omitempty"`
	Output       any                 `json:"output,omitempty"`
	Expected     any                 `json:"expected,omitempty"`
	Verification *verify.Result      `json:"verification"`
	Reward       *reward.Calculation `json:"reward"`
	Timestamp    time.Time           `json:"timestamp"`
	Patterns     []string            `json:"patterns,omitempty"`
}

// ActionFunc produces the output an attempt is judged on.
type ActionFunc func(ctx context.Context) (any, error)

// Outcome is what one attempt produced and how it was judged.
type Outcome struct {
	Output       any
	Verification *verify.Result
	Reward       *reward.Calculation
}

// PatternCount pairs a learned pattern with how often it was seen.
type PatternCount struct {
	Pattern   string `json:"pattern"`
	Frequency int    `json:"frequency"`
}

// Agent runs attempt, verify, reward and adapt cycles and keeps a bounded
// memory of them. A single caller is expected to drive an Agent at a time;
// the internal lock only lets readers take snapshots while it runs.
type Agent struct {
	mu       sync.RWMutex
	cfg      Config
	log      *slog.Logger
	memory   []Memory
	patterns map[string]int
	history  []float64
}

// NewAgent creates an agent. Non-positive memory size, learning rate and
// exploration rate fall back to their defaults; use SetExplorationRate(0)
// afterwards to start without exploration.
func NewAgent(cfg Config) *Agent {
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if cfg.ExplorationRate <= 0 {
		cfg.ExplorationRate = DefaultExplorationRate
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:      cfg,
		log:      logger.With("agent", cfg.Name),
		memory:   make([]Memory, 0, min(cfg.MemorySize, 64)),
		patterns: make(map[string]int),
		history:  make([]float64, 0, historyLimit),
	}
}

func (a *Agent) Name() string { return a.cfg.Name }

// ExecuteAndLearn runs action, verifies and rewards its output and records
// the attempt. When the action fails the failure is recorded as a zero-score
// attempt first and then the action's error is returned unchanged.
func (a *Agent) ExecuteAndLearn(ctx context.Context, input any, action ActionFunc, expected any) (*Outcome, error) {
	output, err := action(ctx)
	if err != nil {
		res := &verify.Result{
			Score:  0,
			Reason: "Execution error: " + err.Error(),
			Errors: []string{err.Error()},
		}
		calc := a.calculateReward(ctx, a.pipeline().rewards, res)
		a.learn(input, nil, expected, res, calc)
		a.log.Warn("action failed", "error", err, "reward", calc.Reward)
		return nil, err
	}

	out := a.judge(ctx, output, expected)
	a.learn(input, output, expected, out.Verification, out.Reward)
	a.log.Debug("attempt recorded",
		"score", out.Verification.Score,
		"reward", out.Reward.Reward,
		"pattern", out.Verification.LearnedPattern)
	return out, nil
}

// Evaluate runs the same pipeline as ExecuteAndLearn without touching memory,
// patterns or exploration.
func (a *Agent) Evaluate(ctx context.Context, action ActionFunc, expected any) (*Outcome, error) {
	output, err := action(ctx)
	if err != nil {
		return nil, err
	}
	return a.judge(ctx, output, expected), nil
}

// scoring is the part of the config a judgement reads. It is copied under
// the lock so verifiers and rewards run without holding it.
type scoring struct {
	verifiers []verify.Verifier
	rewards   []reward.Reward
	strict    bool
}

func (a *Agent) pipeline() scoring {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return scoring{
		verifiers: a.cfg.Verifiers,
		rewards:   a.cfg.Rewards,
		strict:    a.cfg.StrictTimeouts,
	}
}

func (a *Agent) judge(ctx context.Context, output, expected any) *Outcome {
	sc := a.pipeline()
	res := a.verifyAll(ctx, sc, output, expected)
	return &Outcome{
		Output:       output,
		Verification: res,
		Reward:       a.calculateReward(ctx, sc.rewards, res),
	}
}

// verifyAll fans out to every verifier and combines once all have returned.
// A failing verifier contributes a zero score carrying its error.
func (a *Agent) verifyAll(ctx context.Context, sc scoring, output, expected any) *verify.Result {
	verifiers := sc.verifiers
	if len(verifiers) == 0 {
		return verify.NewResult(0.5, "No verifiers configured")
	}

	results := make([]*verify.Result, len(verifiers))
	var wg sync.WaitGroup
	for i, v := range verifiers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := verify.Run(ctx, v, output, expected, sc.strict)
			if err != nil {
				a.log.Warn("verifier failed", "verifier", v.Name(), "error", err)
				res = verify.Failed("Verifier "+v.Name(), err)
				res.Metadata["verifier"] = v.Name()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if len(results) == 1 {
		return results[0]
	}
	return combineVerifications(verifiers, results)
}

func combineVerifications(verifiers []verify.Verifier, results []*verify.Result) *verify.Result {
	var totalWeight, weighted, confSum float64
	for i, r := range results {
		totalWeight += verifiers[i].Weight()
		weighted += r.Score * verifiers[i].Weight()
	}
	if totalWeight == 0 {
		weighted = 0
		for _, r := range results {
			weighted += r.Score
		}
		totalWeight = float64(len(results))
	}

	combined := &verify.Result{
		Breakdown: make(map[string]float64),
		Metadata:  map[string]any{"verifiers": len(results)},
	}
	var reasons, patterns []string
	for i, r := range results {
		name := verifiers[i].Name()
		combined.Breakdown[name] = r.Score
		for k, v := range r.Breakdown {
			combined.Breakdown[name+"_"+k] = v
		}
		combined.Errors = append(combined.Errors, r.Errors...)
		combined.Warnings = append(combined.Warnings, r.Warnings...)
		if r.LearnedPattern != "" {
			patterns = append(patterns, r.LearnedPattern)
		}
		if r.Reason != "" {
			reasons = append(reasons, name+": "+r.Reason)
		}
		confSum += r.ConfidenceOr(0.5)
	}

	combined.Score = verify.Clamp01(weighted / totalWeight)
	combined.Reason = strings.Join(reasons, "; ")
	combined.LearnedPattern = strings.Join(patterns, "; ")
	return combined.WithConfidence(confSum / float64(len(results)))
}

// calculateReward runs the rewards in order and averages them by weight.
func (a *Agent) calculateReward(ctx context.Context, rewards []reward.Reward, res *verify.Result) *reward.Calculation {
	if len(rewards) == 0 {
		return &reward.Calculation{
			Reward:     res.Score,
			Confidence: 0.5,
			Reason:     "No rewards configured",
		}
	}

	calcs := make([]*reward.Calculation, len(rewards))
	for i, r := range rewards {
		calc, err := r.Calculate(ctx, res)
		if err != nil {
			a.log.Warn("reward failed", "reward", r.Name(), "error", err)
			calc = &reward.Calculation{Reason: fmt.Sprintf("Reward %s failed: %v", r.Name(), err)}
		}
		calcs[i] = calc
	}
	if len(calcs) == 1 {
		return calcs[0]
	}

	values := make([]float64, len(calcs))
	weights := make([]float64, len(calcs))
	out := &reward.Calculation{Breakdown: make(map[string]float64, len(calcs))}
	var reasons []string
	for i, c := range calcs {
		values[i] = c.Reward
		weights[i] = rewards[i].Weight()
		out.Confidence += c.Confidence
		out.Breakdown[reward.SanitizeName(rewards[i].Name())] = c.Reward
		if c.Reason != "" {
			reasons = append(reasons, c.Reason)
		}
	}
	out.Reward = reward.Aggregate(reward.WeightedAverage, values, weights)
	out.Confidence /= float64(len(calcs))
	out.Reason = strings.Join(reasons, "; ")
	return out
}

func (a *Agent) learn(input, output, expected any, res *verify.Result, calc *reward.Calculation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := Memory{
		ID:           uuid.NewString(),
		Input:        input,
		Output:       output,
		Expected:     expected,
		Verification: res,
		Reward:       calc,
		Timestamp:    time.Now(),
	}
	if a.cfg.EnablePatternLearning && res.LearnedPattern != "" {
		a.patterns[res.LearnedPattern]++
		entry.Patterns = []string{res.LearnedPattern}
	}

	a.memory = append(a.memory, entry)
	if over := len(a.memory) - a.cfg.MemorySize; over > 0 {
		n := copy(a.memory, a.memory[over:])
		clear(a.memory[n:])
		a.memory = a.memory[:n]
	}

	a.adaptExploration()

	a.history = append(a.history, res.Score)
	if over := len(a.history) - historyLimit; over > 0 {
		a.history = append(a.history[:0], a.history[over:]...)
	}
}

// adaptExploration narrows exploration while scores improve and widens it
// when they regress. Callers hold a.mu.
func (a *Agent) adaptExploration() {
	improvement, ok := trend(a.history)
	if !ok {
		return
	}
	prev := a.cfg.ExplorationRate
	switch {
	case improvement > 0.05:
		a.cfg.ExplorationRate = max(minExploration, prev*0.95)
	case improvement < -0.02:
		a.cfg.ExplorationRate = min(maxExploration, prev*1.05)
	}
	if a.cfg.ExplorationRate != prev {
		a.log.Debug("exploration adapted", "from", prev, "to", a.cfg.ExplorationRate, "improvement", improvement)
	}
}

// trend compares the mean of the last ten scores with the mean of up to ten
// scores before them. It reports false when either window is empty.
func trend(history []float64) (float64, bool) {
	n := len(history)
	if n < trendWindow {
		return 0, false
	}
	recent := history[n-trendWindow:]
	previous := history[max(0, n-2*trendWindow) : n-trendWindow]
	if len(previous) == 0 {
		return 0, false
	}
	return stats.Mean(recent) - stats.Mean(previous), true
}

// ExplorationRate returns the current exploration rate.
func (a *Agent) ExplorationRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.ExplorationRate
}

// SetExplorationRate overrides the exploration rate, clamped into [0, 1].
func (a *Agent) SetExplorationRate(rate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.ExplorationRate = verify.Clamp01(rate)
}

func (a *Agent) LearningRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.LearningRate
}

func (a *Agent) SetLearningRate(rate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rate > 0 {
		a.cfg.LearningRate = rate
	}
}

// GetTopPatterns returns up to limit patterns, most frequent first. Ties are
// ordered by pattern name. A non-positive limit returns all patterns.
func (a *Agent) GetTopPatterns(limit int) []PatternCount {
	a.mu.RLock()
	out := make([]PatternCount, 0, len(a.patterns))
	for p, n := range a.patterns {
		out = append(out, PatternCount{Pattern: p, Frequency: n})
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Pattern < out[j].Pattern
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetRecentMemory returns a copy of the newest n memory entries, oldest first.
func (a *Agent) GetRecentMemory(n int) []Memory {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n <= 0 || n > len(a.memory) {
		n = len(a.memory)
	}
	out := make([]Memory, n)
	copy(out, a.memory[len(a.memory)-n:])
	return out
}
