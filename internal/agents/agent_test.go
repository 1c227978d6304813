package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlvr/internal/reward"
	"rlvr/internal/verify"
)

func alwaysPass() verify.Verifier {
	return verify.NewFunc(verify.Config{Name: "always_pass", Weight: 1}, func(context.Context, any, any) (*verify.Result, error) {
		return verify.NewResult(1, "pass"), nil
	})
}

// echoScore scores an attempt with the float64 the action returned.
func echoScore(name string, weight float64) verify.Verifier {
	return verify.NewFunc(verify.Config{Name: name, Weight: weight}, func(_ context.Context, out, _ any) (*verify.Result, error) {
		return verify.NewResult(out.(float64), "echo"), nil
	})
}

func returning(v any) ActionFunc {
	return func(context.Context) (any, error) { return v, nil }
}

func binaryReward() reward.Reward {
	return reward.NewBinary(reward.Config{Name: "binary", Threshold: 0.7}, 1.0, -0.5)
}

func TestExecuteAndLearn_Success(t *testing.T) {
	cfg := DefaultConfig("scenario-a")
	cfg.Verifiers = []verify.Verifier{alwaysPass()}
	cfg.Rewards = []reward.Reward{binaryReward()}
	agent := NewAgent(cfg)

	out, err := agent.ExecuteAndLearn(context.Background(), "input", returning("output"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, out.Verification.Score)
	assert.Equal(t, 1.0, out.Reward.Reward)
	assert.Equal(t, "output", out.Output)
	assert.Len(t, agent.GetRecentMemory(0), 1)
}

func TestExecuteAndLearn_ActionFailureIsRecordedThenReturned(t *testing.T) {
	cfg := DefaultConfig("scenario-b")
	cfg.Verifiers = []verify.Verifier{alwaysPass()}
	cfg.Rewards = []reward.Reward{binaryReward()}
	agent := NewAgent(cfg)

	boom := errors.New("boom")
	out, err := agent.ExecuteAndLearn(context.Background(), "input", func(context.Context) (any, error) {
		return nil, boom
	}, nil)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "boom")

	mem := agent.GetRecentMemory(0)
	require.Len(t, mem, 1)
	assert.Equal(t, 0.0, mem[0].Verification.Score)
	assert.Equal(t, "Execution error: boom", mem[0].Verification.Reason)
	assert.Equal(t, -0.5, mem[0].Reward.Reward)
}

func TestExecuteAndLearn_NoVerifiersNoRewards(t *testing.T) {
	agent := NewAgent(DefaultConfig("bare"))

	out, err := agent.ExecuteAndLearn(context.Background(), nil, returning(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Verification.Score)
	assert.Equal(t, "No verifiers configured", out.Verification.Reason)
	assert.Equal(t, 0.5, out.Reward.Reward)
	assert.Equal(t, 0.5, out.Reward.Confidence)
}

func TestExecuteAndLearn_CombinesVerifiers(t *testing.T) {
	low := verify.NewFunc(verify.Config{Name: "style", Weight: 1}, func(context.Context, any, any) (*verify.Result, error) {
		res := verify.NewResult(0.4, "messy")
		res.Breakdown = map[string]float64{"lint": 0.2}
		res.Warnings = []string{"long line"}
		res.LearnedPattern = "style:loose"
		return res, nil
	})
	high := verify.NewFunc(verify.Config{Name: "tests", Weight: 3}, func(context.Context, any, any) (*verify.Result, error) {
		res := verify.NewResult(1, "green").WithConfidence(0.9)
		res.Errors = []string{"flaky"}
		res.LearnedPattern = "tests:green"
		return res, nil
	})

	cfg := DefaultConfig("combiner")
	cfg.Verifiers = []verify.Verifier{low, high}
	agent := NewAgent(cfg)

	out, err := agent.ExecuteAndLearn(context.Background(), nil, returning("code"), nil)
	require.NoError(t, err)

	res := out.Verification
	assert.InDelta(t, (0.4*1+1*3)/4.0, res.Score, 1e-9)
	assert.Equal(t, 0.4, res.Breakdown["style"])
	assert.Equal(t, 1.0, res.Breakdown["tests"])
	assert.Equal(t, 0.2, res.Breakdown["style_lint"])
	assert.Equal(t, []string{"flaky"}, res.Errors)
	assert.Equal(t, []string{"long line"}, res.Warnings)
	assert.Equal(t, "style:loose; tests:green", res.LearnedPattern)
	assert.InDelta(t, 0.7, res.ConfidenceOr(0), 1e-9)

	// zero rewards pass the score through
	assert.InDelta(t, res.Score, out.Reward.Reward, 1e-9)
	assert.Equal(t, []PatternCount{{Pattern: "style:loose; tests:green", Frequency: 1}}, agent.GetTopPatterns(5))
}

func TestExecuteAndLearn_VerifiersRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(name string) verify.Verifier {
		return verify.NewFunc(verify.Config{Name: name, Weight: 1}, func(ctx context.Context, _, _ any) (*verify.Result, error) {
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return verify.NewResult(1, "met"), nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("verifiers ran sequentially")
			}
		})
	}

	cfg := DefaultConfig("parallel")
	cfg.Verifiers = []verify.Verifier{barrier("a"), barrier("b")}
	agent := NewAgent(cfg)

	out, err := agent.ExecuteAndLearn(context.Background(), nil, returning("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Verification.Score)
	assert.Empty(t, out.Verification.Errors)
}

func TestExecuteAndLearn_VerifierErrorBecomesZeroScore(t *testing.T) {
	broken := verify.NewFunc(verify.Config{Name: "compiler", Weight: 1}, func(context.Context, any, any) (*verify.Result, error) {
		return nil, errors.New("toolchain missing")
	})
	cfg := DefaultConfig("fragile")
	cfg.Verifiers = []verify.Verifier{alwaysPass(), broken}
	agent := NewAgent(cfg)

	out, err := agent.ExecuteAndLearn(context.Background(), nil, returning("x"), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out.Verification.Score, 1e-9)
	assert.Equal(t, 0.0, out.Verification.Breakdown["compiler"])
	assert.Contains(t, out.Verification.Errors, "toolchain missing")
}

func TestExecuteAndLearn_RewardsAveragedByWeight(t *testing.T) {
	cfg := DefaultConfig("rewards")
	cfg.Verifiers = []verify.Verifier{alwaysPass()}
	cfg.Rewards = []reward.Reward{
		reward.NewLinear(reward.Config{Name: "linear", Weight: 1}),
		reward.NewBinary(reward.Config{Name: "binary", Weight: 1}, 0.5, -0.5),
		reward.NewFunc(reward.Config{Name: "broken"}, func(context.Context, *verify.Result) (*reward.Calculation, error) {
			return nil, errors.New("bad curve")
		}),
	}
	agent := NewAgent(cfg)

	out, err := agent.ExecuteAndLearn(context.Background(), nil, returning("x"), nil)
	require.NoError(t, err)
	assert.InDelta(t, (1+0.5+0)/3.0, out.Reward.Reward, 1e-9)
	assert.Contains(t, out.Reward.Reason, "Reward broken failed: bad curve")
}

func TestMemoryIsBoundedOldestFirst(t *testing.T) {
	cfg := DefaultConfig("bounded")
	cfg.MemorySize = 5
	agent := NewAgent(cfg)

	for i := 0; i < 12; i++ {
		_, err := agent.ExecuteAndLearn(context.Background(), i, returning(i), nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(agent.GetRecentMemory(0)), 5)
	}

	mem := agent.GetRecentMemory(0)
	require.Len(t, mem, 5)
	for i, e := range mem {
		assert.Equal(t, 7+i, e.Input)
	}
	assert.Equal(t, 5, agent.GetMetrics().TotalAttempts)
}

func TestPerformanceHistoryIsCapped(t *testing.T) {
	cfg := DefaultConfig("history")
	cfg.Verifiers = []verify.Verifier{echoScore("echo", 1)}
	agent := NewAgent(cfg)

	for i := 0; i < 130; i++ {
		_, err := agent.ExecuteAndLearn(context.Background(), nil, returning(float64(i%2)), nil)
		require.NoError(t, err)
	}
	assert.Len(t, agent.ExportState().PerformanceHistory, historyLimit)
}

func TestExplorationNarrowsWhenImproving(t *testing.T) {
	cfg := DefaultConfig("improving")
	cfg.Verifiers = []verify.Verifier{echoScore("echo", 1)}
	agent := NewAgent(cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = agent.ExecuteAndLearn(ctx, nil, returning(0.2), nil)
	}
	assert.Equal(t, DefaultExplorationRate, agent.ExplorationRate())
	for i := 0; i < 60; i++ {
		_, _ = agent.ExecuteAndLearn(ctx, nil, returning(0.9), nil)
	}

	rate := agent.ExplorationRate()
	assert.Less(t, rate, DefaultExplorationRate)
	assert.GreaterOrEqual(t, rate, minExploration)
}

func TestExplorationWidensWhenRegressing(t *testing.T) {
	cfg := DefaultConfig("regressing")
	cfg.Verifiers = []verify.Verifier{echoScore("echo", 1)}
	agent := NewAgent(cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = agent.ExecuteAndLearn(ctx, nil, returning(0.9), nil)
	}
	for i := 0; i < 200; i++ {
		_, _ = agent.ExecuteAndLearn(ctx, nil, returning(0.1), nil)
	}

	rate := agent.ExplorationRate()
	assert.Greater(t, rate, DefaultExplorationRate)
	assert.LessOrEqual(t, rate, maxExploration)
}

func TestGetMetrics(t *testing.T) {
	cfg := DefaultConfig("metrics")
	cfg.Verifiers = []verify.Verifier{echoScore("echo", 1)}
	agent := NewAgent(cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = agent.ExecuteAndLearn(ctx, nil, returning(0.5), nil)
	}
	m := agent.GetMetrics()
	assert.Zero(t, m.ImprovementRate)
	assert.Zero(t, m.SuccessfulAttempts)

	for i := 0; i < 10; i++ {
		_, _ = agent.ExecuteAndLearn(ctx, nil, returning(0.8), nil)
	}
	m = agent.GetMetrics()
	assert.Equal(t, 20, m.TotalAttempts)
	assert.Equal(t, 10, m.SuccessfulAttempts)
	assert.InDelta(t, 0.65, m.AverageScore, 1e-9)
	assert.InDelta(t, 0.3, m.ImprovementRate, 1e-9)
	assert.Len(t, m.RecentPerformance, 10)
}

func TestGetTopPatterns(t *testing.T) {
	cfg := DefaultConfig("patterns")
	cfg.Verifiers = []verify.Verifier{verify.NewFunc(verify.Config{Name: "tagger"}, func(_ context.Context, out, _ any) (*verify.Result, error) {
		res := verify.NewResult(1, "")
		res.LearnedPattern = out.(string)
		return res, nil
	})}
	agent := NewAgent(cfg)

	for _, tag := range []string{"b", "a", "c", "a", "c", "a", ""} {
		_, err := agent.ExecuteAndLearn(context.Background(), nil, returning(tag), nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []PatternCount{{"a", 3}, {"c", 2}}, agent.GetTopPatterns(2))
	assert.Len(t, agent.GetTopPatterns(0), 3)
	assert.Equal(t, []string{"a", "b", "c"}, agent.GetMetrics().LearnedPatterns)
}

func TestPatternLearningDisabled(t *testing.T) {
	cfg := DefaultConfig("no-patterns")
	cfg.EnablePatternLearning = false
	cfg.Verifiers = []verify.Verifier{verify.NewFunc(verify.Config{Name: "tagger"}, func(context.Context, any, any) (*verify.Result, error) {
		res := verify.NewResult(1, "")
		res.LearnedPattern = "tag"
		return res, nil
	})}
	agent := NewAgent(cfg)

	_, err := agent.ExecuteAndLearn(context.Background(), nil, returning("x"), nil)
	require.NoError(t, err)
	assert.Empty(t, agent.GetTopPatterns(0))
}

func TestEvaluateDoesNotLearn(t *testing.T) {
	cfg := DefaultConfig("evaluator")
	cfg.Verifiers = []verify.Verifier{alwaysPass()}
	agent := NewAgent(cfg)

	out, err := agent.Evaluate(context.Background(), returning("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Verification.Score)
	assert.Empty(t, agent.GetRecentMemory(0))
}

func TestStrictTimeoutsConvertToZeroScore(t *testing.T) {
	slow := verify.NewFunc(verify.Config{Name: "slow", Timeout: 5 * time.Millisecond}, func(ctx context.Context, _, _ any) (*verify.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultConfig("strict")
	cfg.StrictTimeouts = true
	cfg.Verifiers = []verify.Verifier{slow}
	agent := NewAgent(cfg)

	out, err := agent.ExecuteAndLearn(context.Background(), nil, returning("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Verification.Score)
	assert.Contains(t, out.Verification.Reason, "timed out")
}

func TestImportStateWhileLearning(t *testing.T) {
	cfg := DefaultConfig("busy")
	cfg.Verifiers = []verify.Verifier{echoScore("echo", 1), alwaysPass()}
	cfg.Rewards = []reward.Reward{binaryReward()}
	agent := NewAgent(cfg)
	state := agent.ExportState()
	state.Config.StrictTimeouts = true

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := agent.ExecuteAndLearn(context.Background(), i, returning(0.9), nil)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			state.Config.StrictTimeouts = i%2 == 0
			agent.ImportState(state)
			_ = agent.GetMetrics()
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, len(agent.GetRecentMemory(0)), 200)
}

func TestExportImportState(t *testing.T) {
	cfg := DefaultConfig("source")
	cfg.Verifiers = []verify.Verifier{echoScore("echo", 1)}
	src := NewAgent(cfg)
	for i := 0; i < 8; i++ {
		_, _ = src.ExecuteAndLearn(context.Background(), fmt.Sprintf("in-%d", i), returning(0.75), nil)
	}
	src.SetExplorationRate(0.2)

	data, err := json.Marshal(src.ExportState())
	require.NoError(t, err)
	var state State
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, []string{"echo"}, state.Config.Verifiers)

	dstCfg := DefaultConfig("destination")
	dstCfg.MemorySize = 5
	dst := NewAgent(dstCfg)
	state.Config.MemorySize = 0
	dst.ImportState(state)

	mem := dst.GetRecentMemory(0)
	require.Len(t, mem, 5)
	assert.Equal(t, "in-3", mem[0].Input)
	assert.Equal(t, 0.2, dst.ExplorationRate())
	assert.Equal(t, src.ExportState().PerformanceHistory, dst.ExportState().PerformanceHistory)
}
