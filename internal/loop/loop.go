// Package loop couples an agent to an environment across episodes, adapting
// task difficulty and exploration as the agent's scores change.
package loop

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
	"rlvr/internal/verify"
)

var (
	// ErrNoActionSource is returned when the loop has no policy, no generator
	// and the environment exposes no action set.
	ErrNoActionSource = errors.New("loop needs a policy, a generator or an environment action set")
	// ErrInvalidAction marks a step whose action the environment rejected.
	ErrInvalidAction = errors.New("invalid action")
	// ErrNilDependency is returned when the agent or environment is missing.
	ErrNilDependency = errors.New("loop requires an agent and an environment")
)

const (
	failedStepPenalty = 0.5

	lowScore       = 0.3
	highScore      = 0.9
	lowScoreWarmup = 10

	adaptWindow = 10
	biasStep    = 0.05
	maxBias     = 0.3

	convergenceWindow   = 20
	convergenceScoreMin = 0.9
	convergenceVariance = 0.01

	successScore       = 0.8
	learnedBehaviorCap = 10
	checkpointSourceID = "loop"
)

// Config bounds a loop run.
type Config struct {
	MaxEpisodes        int     `yaml:"max_episodes" json:"max_episodes"`
	MaxStepsPerEpisode int     `yaml:"max_steps_per_episode" json:"max_steps_per_episode"`
	AdaptiveDifficulty bool    `yaml:"adaptive_difficulty" json:"adaptive_difficulty"`
	MinDifficulty      float64 `yaml:"min_difficulty" json:"min_difficulty"`
	MaxDifficulty      float64 `yaml:"max_difficulty" json:"max_difficulty"`
	InitialExploration float64 `yaml:"initial_exploration" json:"initial_exploration"`
	FinalExploration   float64 `yaml:"final_exploration" json:"final_exploration"`
	CheckpointInterval int     `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	Seed               int64   `yaml:"seed" json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		MaxEpisodes:        100,
		MaxStepsPerEpisode: 100,
		MinDifficulty:      0.1,
		MaxDifficulty:      1,
		InitialExploration: 0.3,
		FinalExploration:   0.05,
		CheckpointInterval: 10,
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
	if c.MinDifficulty == 0 && c.MaxDifficulty == 0 {
		c.MinDifficulty, c.MaxDifficulty = d.MinDifficulty, d.MaxDifficulty
	}
	if c.InitialExploration <= 0 {
		c.InitialExploration = d.InitialExploration
	}
	if c.FinalExploration <= 0 {
		c.FinalExploration = d.FinalExploration
	}
	return c
}

// Hooks react to individual step scores. All are optional and run on the
// loop goroutine.
type Hooks struct {
	OnLowScore  func(episode, step int, res *verify.Result)
	OnHighScore func(episode, step int, res *verify.Result)
	OnErrors    func(episode, step int, errs []string)
}

// Observer is notified after every step and episode.
type Observer interface {
	LoopStep(runID string, episode int, rec StepRecord)
	LoopEpisode(runID string, m Metrics)
}

// StepRecord describes one step of an episode.
type StepRecord struct {
	Step        int     `json:"step"`
	Action      any     `json:"action"`
	Observation any     `json:"observation,omitempty"`
	Reward      float64 `json:"reward"`
	Score       float64 `json:"score"`
	Done        bool    `json:"done"`
	Error       string  `json:"error,omitempty"`
}

// Metrics is the snapshot recorded after each episode.
type Metrics struct {
	Episode          int       `json:"episode"`
	Steps            int       `json:"steps"`
	Done             bool      `json:"done"`
	TotalReward      float64   `json:"total_reward"`
	SuccessRate      float64   `json:"success_rate"`
	AverageScore     float64   `json:"average_score"`
	AverageReward    float64   `json:"average_reward"`
	ImprovementRate  float64   `json:"improvement_rate"`
	ConvergenceScore float64   `json:"convergence_score"`
	ExplorationRate  float64   `json:"exploration_rate"`
	Difficulty       float64   `json:"difficulty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Result is returned by Run.
type Result struct {
	RunID            string    `json:"run_id"`
	Success          bool      `json:"success"`
	Converged        bool      `json:"converged"`
	Episodes         []Metrics `json:"episodes"`
	FinalMetrics     Metrics   `json:"final_metrics"`
	LearnedBehaviors []string  `json:"learned_behaviors"`
}

// Option customises a Loop.
type Option func(*Loop)

func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.log = l } }

func WithPolicy(p PolicyFunc) Option { return func(lp *Loop) { lp.policy = p } }

func WithGenerator(g GeneratorFunc) Option { return func(lp *Loop) { lp.generator = g } }

func WithHooks(h Hooks) Option { return func(lp *Loop) { lp.hooks = h } }

func WithObserver(o Observer) Option {
	return func(lp *Loop) { lp.observers = append(lp.observers, o) }
}

func WithCheckpointer(c agents.Checkpointer) Option {
	return func(lp *Loop) { lp.checkpointer = c }
}

func WithRunID(id string) Option { return func(lp *Loop) { lp.runID = id } }

// Loop drives one agent through one environment. A Loop is not safe for
// concurrent Run calls; GetStatistics may be called while it runs.
type Loop struct {
	agent *agents.Agent
	env   Environment
	cfg   Config
	rng   *rand.Rand
	log   *slog.Logger

	policy       PolicyFunc
	generator    GeneratorFunc
	hooks        Hooks
	observers    []Observer
	checkpointer agents.Checkpointer
	runID        string

	mu         sync.RWMutex
	history    []Metrics
	totalSteps int
	bias       float64
	converged  bool
}

func New(agent *agents.Agent, env Environment, cfg Config, opts ...Option) (*Loop, error) {
	if agent == nil || env == nil {
		return nil, ErrNilDependency
	}
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	l := &Loop{
		agent: agent,
		env:   env,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		log:   slog.Default(),
		runID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.policy == nil && l.generator == nil && len(l.actions()) == 0 {
		return nil, ErrNoActionSource
	}
	l.log = l.log.With("component", "loop", "run_id", l.runID)
	return l, nil
}

func (l *Loop) RunID() string { return l.runID }

// ExplorationSchedule decays exponentially from initial to final over
// maxEpisodes and never drops below final.
func ExplorationSchedule(initial, final float64, maxEpisodes, episode int) float64 {
	if initial <= final || maxEpisodes <= 0 {
		return math.Min(initial, final)
	}
	decay := math.Log(final/initial) / float64(maxEpisodes)
	return math.Max(final, initial*math.Exp(decay*float64(episode)))
}

// ExplorationRate is the probability of taking a random action in the given
// zero-based episode.
func (l *Loop) ExplorationRate(episode int) float64 {
	return ExplorationSchedule(l.cfg.InitialExploration, l.cfg.FinalExploration, l.cfg.MaxEpisodes, episode)
}

// difficulty interpolates linearly across the run and adds the adaptive bias.
func (l *Loop) difficulty(episode int) float64 {
	l.mu.RLock()
	bias := l.bias
	l.mu.RUnlock()
	lo, hi := l.cfg.MinDifficulty, l.cfg.MaxDifficulty
	d := lo + (hi-lo)*float64(episode)/float64(l.cfg.MaxEpisodes)
	return verify.Clamp01(d + bias)
}

// Run plays episodes until MaxEpisodes, convergence or cancellation. On
// cancellation the partial result is returned together with ctx's error.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	l.log.Info("loop started", "agent", l.agent.Name(), "max_episodes", l.cfg.MaxEpisodes)

	for ep := 0; ep < l.cfg.MaxEpisodes; ep++ {
		m, err := l.runEpisode(ctx, ep)
		if err != nil {
			l.log.Warn("loop interrupted", "episode", ep+1, "error", err)
			return l.result(), err
		}
		for _, o := range l.observers {
			o.LoopEpisode(l.runID, m)
		}
		l.log.Info("episode completed",
			"episode", m.Episode,
			"steps", m.Steps,
			"done", m.Done,
			"total_reward", m.TotalReward,
			"average_score", m.AverageScore)

		l.evaluateAndAdapt()
		if l.cfg.CheckpointInterval > 0 && m.Episode%l.cfg.CheckpointInterval == 0 {
			l.checkpoint(ctx, m.Episode)
		}
		if l.checkConvergence() {
			l.log.Info("loop converged", "episode", m.Episode)
			break
		}
	}

	res := l.result()
	l.log.Info("loop finished", "episodes", len(res.Episodes), "success", res.Success, "converged", res.Converged)
	return res, nil
}

func (l *Loop) runEpisode(ctx context.Context, ep int) (Metrics, error) {
	state, err := l.env.Reset(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("reset environment: %w", err)
	}

	m := Metrics{
		Episode:         ep + 1,
		ExplorationRate: l.ExplorationRate(ep),
		Difficulty:      l.difficulty(ep),
	}
	var scores []float64
	var successes int

	for step := 1; !m.Done && step <= l.cfg.MaxStepsPerEpisode; step++ {
		if err := ctx.Err(); err != nil {
			return Metrics{}, err
		}

		rec := l.runStep(ctx, ep, step, state, m)
		m.Steps = step
		scores = append(scores, rec.Score)
		if rec.Error != "" {
			m.TotalReward -= failedStepPenalty
		} else {
			m.TotalReward += rec.Reward
			m.Done = rec.Done
			state = rec.Observation
			if state == nil {
				state = l.env.State()
			}
		}
		if rec.Score >= agents.SuccessThreshold {
			successes++
		}

		l.mu.Lock()
		l.totalSteps++
		l.mu.Unlock()
		for _, o := range l.observers {
			o.LoopStep(l.runID, m.Episode, rec)
		}
	}

	if m.Steps > 0 {
		m.AverageScore = stats.Mean(scores)
		m.AverageReward = m.TotalReward / float64(m.Steps)
		m.SuccessRate = float64(successes) / float64(m.Steps)
	}
	m.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.history); n > 0 {
		m.ImprovementRate = m.AverageScore - l.history[n-1].AverageScore
	}
	l.history = append(l.history, m)
	m.ConvergenceScore = convergenceScore(l.history)
	l.history[len(l.history)-1] = m
	return m, nil
}

// runStep chooses and applies one action. Failures are returned as a record
// carrying the error rather than aborting the episode.
func (l *Loop) runStep(ctx context.Context, ep, step int, state any, m Metrics) StepRecord {
	rec := StepRecord{Step: step}

	action, err := l.selectAction(ctx, state, m)
	if err == nil && !l.env.IsValidAction(action) {
		err = fmt.Errorf("%w: %v", ErrInvalidAction, action)
	}
	rec.Action = action
	if err != nil {
		return l.failStep(ep, rec, err)
	}

	sr, err := l.env.Step(ctx, action)
	if err != nil {
		return l.failStep(ep, rec, fmt.Errorf("step environment: %w", err))
	}

	out, err := l.agent.ExecuteAndLearn(ctx, Input{State: state, Action: action}, func(context.Context) (any, error) {
		return sr, nil
	}, sr.Reward)
	if err != nil {
		return l.failStep(ep, rec, err)
	}

	rec.Observation = sr.Observation
	rec.Reward = sr.Reward
	rec.Done = sr.Done
	rec.Score = out.Verification.Score
	l.react(ep+1, step, out.Verification)
	return rec
}

func (l *Loop) failStep(ep int, rec StepRecord, err error) StepRecord {
	l.log.Warn("step failed", "episode", ep+1, "step", rec.Step, "error", err)
	rec.Error = err.Error()
	rec.Score = 0
	return rec
}

func (l *Loop) selectAction(ctx context.Context, state any, m Metrics) (any, error) {
	if l.cfg.AdaptiveDifficulty && l.generator != nil {
		return l.generator(ctx, state, m.Difficulty)
	}
	actions := l.actions()
	if len(actions) > 0 && (l.policy == nil || l.rng.Float64() < m.ExplorationRate) {
		return actions[l.rng.Intn(len(actions))], nil
	}
	if l.policy != nil {
		return l.policy(ctx, state)
	}
	return l.generator(ctx, state, m.Difficulty)
}

func (l *Loop) actions() []any {
	if as, ok := l.env.(ActionSpace); ok {
		return as.Actions()
	}
	return nil
}

// react is advisory: it logs and calls hooks but never changes control flow.
func (l *Loop) react(episode, step int, res *verify.Result) {
	switch {
	case res.Score < lowScore && step > lowScoreWarmup:
		l.log.Debug("low score, increase exploration", "episode", episode, "step", step, "score", res.Score)
		if l.hooks.OnLowScore != nil {
			l.hooks.OnLowScore(episode, step, res)
		}
	case res.Score > highScore:
		l.log.Debug("high score, decrease exploration", "episode", episode, "step", step, "score", res.Score)
		if l.hooks.OnHighScore != nil {
			l.hooks.OnHighScore(episode, step, res)
		}
	}
	if len(res.Errors) > 0 && l.hooks.OnErrors != nil {
		l.hooks.OnErrors(episode, step, res.Errors)
	}
}

// evaluateAndAdapt looks at the trailing episodes and, when difficulty is
// adaptive, nudges the bias towards harder tasks on success and easier
// ones on failure.
func (l *Loop) evaluateAndAdapt() {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.history[max(0, len(l.history)-adaptWindow):]
	scores := make([]float64, len(recent))
	rewards := make([]float64, len(recent))
	for i, m := range recent {
		scores[i] = m.AverageScore
		rewards[i] = m.TotalReward
	}
	avgScore, avgReward := stats.Mean(scores), stats.Mean(rewards)

	if l.cfg.AdaptiveDifficulty {
		switch {
		case avgScore > successScore:
			l.bias = math.Min(maxBias, l.bias+biasStep)
		case avgScore < 0.5:
			l.bias = math.Max(-maxBias, l.bias-biasStep)
		}
	}
	l.log.Debug("performance window",
		"episodes", len(recent),
		"average_score", avgScore,
		"average_reward", avgReward,
		"difficulty_bias", l.bias)
}

func (l *Loop) checkConvergence() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.history) < convergenceWindow {
		return false
	}
	scores := make([]float64, 0, convergenceWindow)
	for _, m := range l.history[len(l.history)-convergenceWindow:] {
		scores = append(scores, m.AverageScore)
	}
	if stats.Mean(scores) >= convergenceScoreMin && stats.Variance(scores) < convergenceVariance {
		l.converged = true
	}
	return l.converged
}

// convergenceScore mirrors the trainer's stability measure over the last
// five episodes.
func convergenceScore(history []Metrics) float64 {
	if len(history) < 5 {
		return 0
	}
	scores := make([]float64, 0, 5)
	for _, m := range history[len(history)-5:] {
		scores = append(scores, m.AverageScore)
	}
	return math.Max(0, 1-4*stats.StdDev(scores))
}

func (l *Loop) checkpoint(ctx context.Context, episode int) {
	if l.checkpointer == nil {
		return
	}
	cp := l.agent.NewCheckpoint(l.runID, checkpointSourceID, episode)
	if err := l.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		l.log.Error("checkpoint failed", "episode", episode, "error", err)
		return
	}
	l.log.Info("checkpoint saved", "episode", episode)
}

func (l *Loop) result() *Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := &Result{
		RunID:     l.runID,
		Converged: l.converged,
		Episodes:  append([]Metrics(nil), l.history...),
	}
	if n := len(l.history); n > 0 {
		res.FinalMetrics = l.history[n-1]
		res.Success = res.FinalMetrics.AverageScore >= successScore
	}
	for _, p := range l.agent.GetTopPatterns(learnedBehaviorCap) {
		res.LearnedBehaviors = append(res.LearnedBehaviors, fmt.Sprintf("%s (%d times)", p.Pattern, p.Frequency))
	}
	return res
}

// Statistics is a point-in-time view of a loop run.
type Statistics struct {
	RunID           string         `json:"run_id"`
	Episodes        int            `json:"episodes"`
	TotalSteps      int            `json:"total_steps"`
	TotalReward     float64        `json:"total_reward"`
	AverageScore    float64        `json:"average_score"`
	BestEpisode     int            `json:"best_episode,omitempty"`
	BestScore       float64        `json:"best_score"`
	DifficultyBias  float64        `json:"difficulty_bias"`
	ExplorationRate float64        `json:"exploration_rate"`
	Converged       bool           `json:"converged"`
	AgentMetrics    agents.Metrics `json:"agent_metrics"`
}

func (l *Loop) GetStatistics() Statistics {
	l.mu.RLock()
	st := Statistics{
		RunID:          l.runID,
		Episodes:       len(l.history),
		TotalSteps:     l.totalSteps,
		DifficultyBias: l.bias,
		Converged:      l.converged,
	}
	scores := make([]float64, 0, len(l.history))
	for _, m := range l.history {
		st.TotalReward += m.TotalReward
		scores = append(scores, m.AverageScore)
		if st.BestEpisode == 0 || m.AverageScore > st.BestScore {
			st.BestEpisode, st.BestScore = m.Episode, m.AverageScore
		}
	}
	st.AverageScore = stats.Mean(scores)
	st.ExplorationRate = l.ExplorationRate(len(l.history))
	l.mu.RUnlock()

	st.AgentMetrics = l.agent.GetMetrics()
	return st
}
