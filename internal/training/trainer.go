// Package training runs an agent through episodes of sampled tasks and
// tracks per-episode metrics until the agent converges.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"rlvr/internal/agents"
	"rlvr/internal/stats"
)

var (
	// ErrNoTasks is returned when a trainer is built without tasks.
	ErrNoTasks = errors.New("trainer requires at least one task")
	// ErrNilAgent is returned when a trainer is built without an agent.
	ErrNilAgent = errors.New("trainer requires an agent")
)

const (
	failedStepReward = -0.5

	stagnationWindow = 10
	stagnationScore  = 0.3

	convergenceWindow  = 5
	convergenceStable  = 0.8
	convergenceSpread  = 4.0
	checkpointSourceID = "trainer"
)

// Config bounds a training run.
type Config struct {
	MaxEpisodes           int     `yaml:"max_episodes" json:"max_episodes"`
	MaxStepsPerEpisode    int     `yaml:"max_steps_per_episode" json:"max_steps_per_episode"`
	ConvergenceThreshold  float64 `yaml:"convergence_threshold" json:"convergence_threshold"`
	EarlyStoppingPatience int     `yaml:"early_stopping_patience" json:"early_stopping_patience"`
	CheckpointInterval    int     `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	Seed                  int64   `yaml:"seed" json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		MaxEpisodes:           100,
		MaxStepsPerEpisode:    50,
		ConvergenceThreshold:  0.9,
		EarlyStoppingPatience: 20,
		CheckpointInterval:    10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEpisodes <= 0 {
		c.MaxEpisodes = d.MaxEpisodes
	}
	if c.MaxStepsPerEpisode <= 0 {
		c.MaxStepsPerEpisode = d.MaxStepsPerEpisode
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = d.ConvergenceThreshold
	}
	if c.EarlyStoppingPatience <= 0 {
		c.EarlyStoppingPatience = d.EarlyStoppingPatience
	}
	return c
}

// StepResult is the outcome of one sampled task.
type StepResult struct {
	Task    string  `json:"task"`
	Success bool    `json:"success"`
	Score   float64 `json:"score"`
	Reward  float64 `json:"reward"`
	Error   string  `json:"error,omitempty"`
}

// Metrics is the snapshot recorded after each episode.
type Metrics struct {
	Episode          int       `json:"episode"`
	Steps            int       `json:"steps"`
	SuccessRate      float64   `json:"success_rate"`
	AverageScore     float64   `json:"average_score"`
	AverageReward    float64   `json:"average_reward"`
	ImprovementRate  float64   `json:"improvement_rate"`
	ConvergenceScore float64   `json:"convergence_score"`
	ExplorationRate  float64   `json:"exploration_rate"`
	Timestamp        time.Time `json:"timestamp"`
}

// Summary aggregates a whole run.
type Summary struct {
	TotalEpisodes int     `json:"total_episodes"`
	TotalSteps    int     `json:"total_steps"`
	SuccessRate   float64 `json:"success_rate"`
	AverageScore  float64 `json:"average_score"`
	AverageReward float64 `json:"average_reward"`
	Converged     bool    `json:"converged"`
	ConvergedAt   int     `json:"converged_at,omitempty"`
}

// Result is returned by Train.
type Result struct {
	RunID        string         `json:"run_id"`
	Episodes     []Metrics      `json:"episodes"`
	FinalMetrics Summary        `json:"final_metrics"`
	AgentMetrics agents.Metrics `json:"agent_metrics"`
	EarlyStopped bool           `json:"early_stopped"`
}

// Option customises a Trainer.
type Option func(*Trainer)

func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) { t.log = l }
}

func WithDecay(d DecayStrategy) Option {
	return func(t *Trainer) { t.decay = d }
}

func WithCheckpointer(c agents.Checkpointer) Option {
	return func(t *Trainer) { t.checkpointer = c }
}

func WithObserver(o Observer) Option {
	return func(t *Trainer) { t.observers = append(t.observers, o) }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// Trainer drives one agent through episodes over a fixed task pool.
type Trainer struct {
	agent *agents.Agent
	tasks []Task
	cfg   Config
	log   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	decay        DecayStrategy
	checkpointer agents.Checkpointer
	observers    []Observer
	runID        string

	mu          sync.RWMutex
	history     []Metrics
	totalSteps  int
	successes   int
	scoreSum    float64
	rewardSum   float64
	converged   bool
	convergedAt int
}

func NewTrainer(agent *agents.Agent, tasks []Task, cfg Config, opts ...Option) (*Trainer, error) {
	if agent == nil {
		return nil, ErrNilAgent
	}
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	t := &Trainer{
		agent: agent,
		tasks: append([]Task(nil), tasks...),
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		log:   slog.Default(),
		decay: NoDecay{},
		runID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "trainer", "run_id", t.runID)
	return t, nil
}

func (t *Trainer) RunID() string { return t.runID }

// Train runs episodes until MaxEpisodes, early stopping or cancellation.
// On cancellation the partial result is returned together with ctx's error.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	t.log.Info("training started",
		"agent", t.agent.Name(),
		"tasks", len(t.tasks),
		"max_episodes", t.cfg.MaxEpisodes,
		"max_steps", t.cfg.MaxStepsPerEpisode)

	earlyStopped := false
	for ep := 1; ep <= t.cfg.MaxEpisodes; ep++ {
		m, err := t.runEpisode(ctx, ep)
		if err != nil {
			t.log.Warn("training interrupted", "episode", ep, "error", err)
			return t.result(false), err
		}

		t.decay.Apply(ep, t.agent, m)
		for _, o := range t.observers {
			o.TrainingEpisode(t.runID, m)
		}
		t.log.Info("episode completed",
			"episode", ep,
			"steps", m.Steps,
			"success_rate", m.SuccessRate,
			"average_score", m.AverageScore,
			"convergence_score", m.ConvergenceScore)

		if t.cfg.CheckpointInterval > 0 && ep%t.cfg.CheckpointInterval == 0 {
			t.checkpoint(ctx, ep)
		}

		if t.markConverged(m) {
			t.log.Info("training converged", "episode", ep)
		}
		if conv, at := t.convergence(); conv && ep-at >= t.cfg.EarlyStoppingPatience {
			t.log.Info("early stopping", "episode", ep, "converged_at", at)
			earlyStopped = true
			break
		}
	}

	res := t.result(earlyStopped)
	t.log.Info("training finished",
		"episodes", res.FinalMetrics.TotalEpisodes,
		"steps", res.FinalMetrics.TotalSteps,
		"converged", res.FinalMetrics.Converged)
	return res, nil
}

// forkRNG returns a source seeded from the trainer's own, for callers that
// sample outside the training loop.
func (t *Trainer) forkRNG() *rand.Rand {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return rand.New(rand.NewSource(t.rng.Int63()))
}

func (t *Trainer) runEpisode(ctx context.Context, episode int) (Metrics, error) {
	steps := make([]StepResult, 0, t.cfg.MaxStepsPerEpisode)
	for step := 0; step < t.cfg.MaxStepsPerEpisode; step++ {
		if err := ctx.Err(); err != nil {
			return Metrics{}, err
		}
		t.rngMu.Lock()
		task := pickTask(t.rng, t.tasks)
		t.rngMu.Unlock()
		r := t.runStep(ctx, task)
		steps = append(steps, r)
		t.record(r)
		for _, o := range t.observers {
			o.TrainingStep(t.runID, episode, step, r)
		}
		if stagnated(steps) {
			t.log.Debug("episode stagnated", "episode", episode, "step", step)
			break
		}
	}
	return t.episodeMetrics(episode, steps), nil
}

func (t *Trainer) runStep(ctx context.Context, task Task) StepResult {
	t.rngMu.Lock()
	input, expected := task.generate(t.rng)
	t.rngMu.Unlock()
	action := func(ctx context.Context) (any, error) {
		if task.Execute == nil {
			return nil, fmt.Errorf("task %q has no executor", task.Name)
		}
		return task.Execute(ctx, input, t.agent)
	}

	out, err := t.agent.ExecuteAndLearn(ctx, input, action, expected)
	if err != nil {
		t.log.Debug("step failed", "task", task.Name, "error", err)
		return StepResult{Task: task.Name, Score: 0, Reward: failedStepReward, Error: err.Error()}
	}
	score := out.Verification.Score
	return StepResult{
		Task:    task.Name,
		Success: score >= agents.SuccessThreshold,
		Score:   score,
		Reward:  out.Reward.Reward,
	}
}

// stagnated reports whether the trailing window of steps all scored poorly.
func stagnated(steps []StepResult) bool {
	if len(steps) < stagnationWindow {
		return false
	}
	for _, s := range steps[len(steps)-stagnationWindow:] {
		if s.Score >= stagnationScore {
			return false
		}
	}
	return true
}

func (t *Trainer) record(r StepResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSteps++
	if r.Success {
		t.successes++
	}
	t.scoreSum += r.Score
	t.rewardSum += r.Reward
}

func (t *Trainer) episodeMetrics(episode int, steps []StepResult) Metrics {
	m := Metrics{
		Episode:         episode,
		Steps:           len(steps),
		ExplorationRate: t.agent.ExplorationRate(),
		Timestamp:       time.Now(),
	}
	if n := float64(len(steps)); n > 0 {
		var successes int
		for _, s := range steps {
			if s.Success {
				successes++
			}
			m.AverageScore += s.Score
			m.AverageReward += s.Reward
		}
		m.SuccessRate = float64(successes) / n
		m.AverageScore /= n
		m.AverageReward /= n
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) > 0 {
		m.ImprovementRate = m.AverageScore - t.history[len(t.history)-1].AverageScore
	}
	t.history = append(t.history, m)
	t.history[len(t.history)-1].ConvergenceScore = convergenceScore(t.history)
	return t.history[len(t.history)-1]
}

// convergenceScore is 1 when the last five episode averages agree and drops
// towards 0 as they spread. It is 0 until five episodes exist.
func convergenceScore(history []Metrics) float64 {
	if len(history) < convergenceWindow {
		return 0
	}
	scores := make([]float64, 0, convergenceWindow)
	for _, m := range history[len(history)-convergenceWindow:] {
		scores = append(scores, m.AverageScore)
	}
	return math.Max(0, 1-convergenceSpread*stats.StdDev(scores))
}

// markConverged records the first episode meeting the convergence criteria.
func (t *Trainer) markConverged(m Metrics) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.converged || len(t.history) < convergenceWindow {
		return false
	}
	thr := t.cfg.ConvergenceThreshold
	if m.SuccessRate >= thr && m.ConvergenceScore > convergenceStable && m.AverageScore >= thr {
		t.converged = true
		t.convergedAt = m.Episode
		return true
	}
	return false
}

func (t *Trainer) convergence() (bool, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.converged, t.convergedAt
}

// HasConverged reports whether convergence was reached. It is always false
// before five episodes have been recorded.
func (t *Trainer) HasConverged() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history) >= convergenceWindow && t.converged
}

func (t *Trainer) checkpoint(ctx context.Context, episode int) {
	if t.checkpointer == nil {
		return
	}
	cp := t.agent.NewCheckpoint(t.runID, checkpointSourceID, episode)
	if err := t.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		t.log.Error("checkpoint failed", "episode", episode, "error", err)
		return
	}
	t.log.Info("checkpoint saved", "episode", episode)
}

func (t *Trainer) summary() Summary {
	s := Summary{
		TotalEpisodes: len(t.history),
		TotalSteps:    t.totalSteps,
		Converged:     t.converged,
		ConvergedAt:   t.convergedAt,
	}
	if t.totalSteps > 0 {
		n := float64(t.totalSteps)
		s.SuccessRate = float64(t.successes) / n
		s.AverageScore = t.scoreSum / n
		s.AverageReward = t.rewardSum / n
	}
	return s
}

func (t *Trainer) result(earlyStopped bool) *Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Result{
		RunID:        t.runID,
		Episodes:     append([]Metrics(nil), t.history...),
		FinalMetrics: t.summary(),
		AgentMetrics: t.agent.GetMetrics(),
		EarlyStopped: earlyStopped,
	}
}

// Statistics is a point-in-time view of a run, safe to take while training.
type Statistics struct {
	RunID        string                `json:"run_id"`
	Summary      Summary               `json:"summary"`
	BestEpisode  int                   `json:"best_episode,omitempty"`
	BestScore    float64               `json:"best_score"`
	Latest       *Metrics              `json:"latest,omitempty"`
	AgentMetrics agents.Metrics        `json:"agent_metrics"`
	TopPatterns  []agents.PatternCount `json:"top_patterns"`
}

func (t *Trainer) GetTrainingStatistics() Statistics {
	t.mu.RLock()
	st := Statistics{
		RunID:   t.runID,
		Summary: t.summary(),
	}
	for _, m := range t.history {
		if st.BestEpisode == 0 || m.AverageScore > st.BestScore {
			st.BestEpisode = m.Episode
			st.BestScore = m.AverageScore
		}
	}
	if n := len(t.history); n > 0 {
		latest := t.history[n-1]
		st.Latest = &latest
	}
	t.mu.RUnlock()

	st.AgentMetrics = t.agent.GetMetrics()
	st.TopPatterns = t.agent.GetTopPatterns(10)
	return st
}
