package loop

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlvr/internal/agents"
	"rlvr/internal/verify"
)

// countdownEnv finishes after length steps (never when length is 0) and
// pays a fixed reward per step.
type countdownEnv struct {
	length  int
	reward  float64
	actions []any

	pos    int
	resets int
	steps  int
}

func (e *countdownEnv) Reset(context.Context) (any, error) {
	e.pos = 0
	e.resets++
	return e.pos, nil
}

func (e *countdownEnv) Step(_ context.Context, _ any) (StepResult, error) {
	e.pos++
	e.steps++
	return StepResult{Observation: e.pos, Reward: e.reward, Done: e.length > 0 && e.pos >= e.length}, nil
}

func (e *countdownEnv) State() any { return e.pos }

func (e *countdownEnv) IsValidAction(a any) bool { return a != "bogus" }

func (e *countdownEnv) Actions() []any { return e.actions }

// rewardScorer turns the environment reward into the verification score.
func rewardScorer() verify.Verifier {
	return verify.NewFunc(verify.Config{Name: "env_reward", Weight: 1}, func(_ context.Context, _, expected any) (*verify.Result, error) {
		r := expected.(float64)
		res := verify.NewResult(r, "environment reward")
		if r >= 0.9 {
			res.LearnedPattern = "reward:high"
		}
		if r < 0 {
			res.Errors = []string{"negative reward"}
		}
		return res, nil
	})
}

func newAgent() *agents.Agent {
	cfg := agents.DefaultConfig("player")
	cfg.Verifiers = []verify.Verifier{rewardScorer()}
	return agents.NewAgent(cfg)
}

func tick(context.Context, any) (any, error) { return "tick", nil }

type recorder struct {
	mu          sync.Mutex
	steps       int
	episodes    []int
	checkpoints []int
}

func (r *recorder) LoopStep(string, int, StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
}

func (r *recorder) LoopEpisode(_ string, m Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.episodes = append(r.episodes, m.Episode)
}

func (r *recorder) SaveCheckpoint(_ context.Context, cp agents.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, cp.Episode)
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &countdownEnv{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = New(newAgent(), &countdownEnv{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoActionSource)

	_, err = New(newAgent(), &countdownEnv{actions: []any{"tick"}}, DefaultConfig())
	assert.NoError(t, err)
}

func TestRun_EpisodeEndsWhenEnvironmentIsDone(t *testing.T) {
	env := &countdownEnv{length: 3, reward: 0.5}
	l, err := New(newAgent(), env, Config{MaxEpisodes: 1, MaxStepsPerEpisode: 10, Seed: 1}, WithPolicy(tick))
	require.NoError(t, err)

	res, err := l.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Episodes, 1)
	ep := res.Episodes[0]
	assert.True(t, ep.Done)
	assert.Equal(t, 3, ep.Steps)
	assert.Equal(t, 3, env.steps)
	assert.InDelta(t, 1.5, ep.TotalReward, 1e-12)
	assert.Equal(t, ep, res.FinalMetrics)
	assert.False(t, res.Success)
}

func TestExplorationSchedule_NonIncreasing(t *testing.T) {
	prev := ExplorationSchedule(0.3, 0.05, 100, 0)
	assert.Equal(t, 0.3, prev)
	for e := 1; e <= 300; e++ {
		rate := ExplorationSchedule(0.3, 0.05, 100, e)
		assert.LessOrEqual(t, rate, prev, "episode %d", e)
		assert.GreaterOrEqual(t, rate, 0.05)
		prev = rate
	}
	assert.InDelta(t, 0.05, ExplorationSchedule(0.3, 0.05, 100, 100), 1e-12)
	assert.Equal(t, 0.05, ExplorationSchedule(0.3, 0.05, 100, 250))
}

func TestRun_InvalidActionsArePenalised(t *testing.T) {
	env := &countdownEnv{reward: 1}
	bogus := func(context.Context, any) (any, error) { return "bogus", nil }
	agent := newAgent()
	l, err := New(agent, env, Config{MaxEpisodes: 1, MaxStepsPerEpisode: 4, Seed: 1}, WithPolicy(bogus))
	require.NoError(t, err)

	res, err := l.Run(context.Background())
	require.NoError(t, err)

	ep := res.Episodes[0]
	assert.Equal(t, 4, ep.Steps)
	assert.False(t, ep.Done)
	assert.Equal(t, -2.0, ep.TotalReward)
	assert.Zero(t, ep.AverageScore)
	assert.Zero(t, env.steps, "rejected actions never reach the environment")
}

func TestRun_Hooks(t *testing.T) {
	var low, high, errs []int
	hooks := Hooks{
		OnLowScore:  func(_, step int, _ *verify.Result) { low = append(low, step) },
		OnHighScore: func(_, step int, _ *verify.Result) { high = append(high, step) },
		OnErrors:    func(_, step int, _ []string) { errs = append(errs, step) },
	}
	cfg := Config{MaxEpisodes: 1, MaxStepsPerEpisode: 20, Seed: 1}

	l, err := New(newAgent(), &countdownEnv{length: 12, reward: 0}, cfg, WithPolicy(tick), WithHooks(hooks))
	require.NoError(t, err)
	_, err = l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{11, 12}, low)
	assert.Empty(t, high)

	low = nil
	l, err = New(newAgent(), &countdownEnv{length: 2, reward: 1}, cfg, WithPolicy(tick), WithHooks(hooks))
	require.NoError(t, err)
	_, err = l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, high)

	l, err = New(newAgent(), &countdownEnv{length: 1, reward: -1}, cfg, WithPolicy(tick), WithHooks(hooks))
	require.NoError(t, err)
	_, err = l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, errs)
}

func TestRun_ConvergesAndReportsBehaviours(t *testing.T) {
	rec := &recorder{}
	l, err := New(newAgent(), &countdownEnv{length: 1, reward: 1, actions: []any{"tick"}},
		Config{MaxEpisodes: 50, CheckpointInterval: 10, Seed: 2},
		WithObserver(rec), WithCheckpointer(rec))
	require.NoError(t, err)

	res, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.True(t, res.Success)
	assert.Len(t, res.Episodes, convergenceWindow)
	assert.Equal(t, []string{"reward:high (20 times)"}, res.LearnedBehaviors)

	assert.Equal(t, 20, rec.steps)
	assert.Len(t, rec.episodes, 20)
	assert.Equal(t, []int{10, 20}, rec.checkpoints)
}

func TestRun_AdaptiveDifficulty(t *testing.T) {
	var seen []float64
	gen := func(_ context.Context, _ any, d float64) (any, error) {
		seen = append(seen, d)
		return d, nil
	}
	l, err := New(newAgent(), &countdownEnv{length: 1, reward: 1}, Config{
		MaxEpisodes:        4,
		AdaptiveDifficulty: true,
		MinDifficulty:      0,
		MaxDifficulty:      1,
		Seed:               3,
	}, WithGenerator(gen))
	require.NoError(t, err)

	_, err = l.Run(context.Background())
	require.NoError(t, err)

	want := []float64{0, 0.3, 0.6, 0.9}
	require.Len(t, seen, len(want))
	for i := range want {
		assert.InDelta(t, want[i], seen[i], 1e-9, "episode %d", i)
	}
	assert.InDelta(t, 0.2, l.GetStatistics().DifficultyBias, 1e-9)
}

func TestRun_CancelledContext(t *testing.T) {
	l, err := New(newAgent(), &countdownEnv{length: 3}, Config{MaxEpisodes: 3}, WithPolicy(tick))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Episodes)
}

func TestGetStatistics(t *testing.T) {
	env := &countdownEnv{length: 2, reward: 0.5}
	l, err := New(newAgent(), env, Config{MaxEpisodes: 3, Seed: 4}, WithPolicy(tick), WithRunID("loop-1"))
	require.NoError(t, err)

	_, err = l.Run(context.Background())
	require.NoError(t, err)

	st := l.GetStatistics()
	assert.Equal(t, "loop-1", st.RunID)
	assert.Equal(t, 3, st.Episodes)
	assert.Equal(t, 6, st.TotalSteps)
	assert.InDelta(t, 3.0, st.TotalReward, 1e-12)
	assert.InDelta(t, 0.5, st.AverageScore, 1e-12)
	assert.Equal(t, 3, env.resets)
	assert.Equal(t, 6, st.AgentMetrics.TotalAttempts)
	assert.Equal(t, l.ExplorationRate(3), st.ExplorationRate)
}
