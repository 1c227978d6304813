package reward

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlvr/internal/verify"
)

func fixed(name string, value, weight float64) Reward {
	return NewFunc(Config{Name: name, Weight: weight}, func(context.Context, *verify.Result) (*Calculation, error) {
		return &Calculation{Reward: value, Confidence: 0.8}, nil
	})
}

func TestBaseNormalize(t *testing.T) {
	b := NewBase(Config{Weight: 2, MinReward: -1, MaxReward: 1})
	assert.Equal(t, 0.6, b.Normalize(0.3))
	assert.Equal(t, 1.0, b.Normalize(0.9))
	assert.Equal(t, -1.0, b.Normalize(-3))
}

func TestBaseApplyThreshold(t *testing.T) {
	b := NewBase(Config{Threshold: 0.7})
	assert.Equal(t, 0.8, b.ApplyThreshold(0.8))
	assert.InDelta(t, 0.15, b.ApplyThreshold(0.5), 1e-9)
}

func TestBinary(t *testing.T) {
	r := NewBinary(Config{Threshold: 0.7}, 1.0, -0.5)
	ctx := context.Background()

	for _, score := range []float64{0.7, 0.85, 1} {
		calc, err := r.Calculate(ctx, verify.NewResult(score, ""))
		require.NoError(t, err)
		assert.Equal(t, r.Normalize(1.0), calc.Reward, "score %v", score)
	}
	for _, score := range []float64{0, 0.3, 0.69} {
		calc, err := r.Calculate(ctx, verify.NewResult(score, ""))
		require.NoError(t, err)
		assert.Equal(t, r.Normalize(-0.5), calc.Reward, "score %v", score)
	}
}

func TestNegativeThresholdPassesEveryScore(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewBase(Config{}).Threshold())

	r := NewBinary(Config{Threshold: -1}, 1.0, -0.5)
	calc, err := r.Calculate(context.Background(), verify.NewResult(0, ""))
	require.NoError(t, err)
	assert.Equal(t, 1.0, calc.Reward)
}

func TestLinearAndThresholded(t *testing.T) {
	ctx := context.Background()
	lin, err := NewLinear(Config{}).Calculate(ctx, verify.NewResult(0.4, ""))
	require.NoError(t, err)
	assert.Equal(t, 0.4, lin.Reward)

	th, err := NewThresholded(Config{Threshold: 0.5}).Calculate(ctx, verify.NewResult(0.4, ""))
	require.NoError(t, err)
	assert.InDelta(t, 0.1, th.Reward, 1e-9)
}

func TestNewComposite_Validation(t *testing.T) {
	_, err := NewComposite(CompositeConfig{})
	assert.ErrorIs(t, err, ErrNoSubRewards)

	_, err = NewComposite(CompositeConfig{Strategy: "median"}, fixed("a", 1, 1))
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestComposite_WeightedAverageWithPenalty(t *testing.T) {
	c, err := NewComposite(CompositeConfig{
		Strategy:              WeightedAverage,
		PenalizeInconsistency: true,
		ConsistencyThreshold:  0.7,
	}, fixed("Low Reward", 0.2, 1), fixed("high-reward", 0.9, 1))
	require.NoError(t, err)

	calc, err := c.Calculate(context.Background(), verify.NewResult(0.5, ""))
	require.NoError(t, err)

	// stddev(0.2, 0.9) = 0.35, consistency = 1 - 0.35/0.5 = 0.3
	wantPenalty := (0.7 - 0.3) / 0.7 * 0.2
	assert.InDelta(t, 0.55, calc.Breakdown["aggregate"], 1e-9)
	assert.InDelta(t, 0.3, calc.Breakdown["consistency"], 1e-9)
	assert.InDelta(t, wantPenalty, calc.Breakdown["penalty"], 1e-9)
	assert.InDelta(t, 0.55-wantPenalty, calc.Reward, 1e-9)

	assert.InDelta(t, 0.2, calc.Breakdown["low_reward_reward"], 1e-9)
	assert.InDelta(t, 0.9, calc.Breakdown["high_reward_reward"], 1e-9)
	assert.InDelta(t, 0.8, calc.Breakdown["high_reward_confidence"], 1e-9)

	// avg 0.8 + 0.1*0.3 - 0.05
	assert.InDelta(t, 0.78, calc.Confidence, 1e-9)
}

func TestComposite_NoPenaltyWhenDisabled(t *testing.T) {
	c, err := NewComposite(CompositeConfig{}, fixed("a", 0.2, 1), fixed("b", 0.9, 1))
	require.NoError(t, err)
	calc, err := c.Calculate(context.Background(), verify.NewResult(0.5, ""))
	require.NoError(t, err)
	assert.InDelta(t, 0.55, calc.Reward, 1e-9)
	assert.Zero(t, calc.Breakdown["penalty"])
}

func TestComposite_FailingSubRewardIsRecoverable(t *testing.T) {
	broken := NewFunc(Config{Name: "broken"}, func(context.Context, *verify.Result) (*Calculation, error) {
		return nil, errors.New("no signal")
	})
	c, err := NewComposite(CompositeConfig{}, fixed("ok", 0.8, 1), broken)
	require.NoError(t, err)

	calc, err := c.Calculate(context.Background(), verify.NewResult(1, ""))
	require.NoError(t, err)
	assert.InDelta(t, 0.4, calc.Reward, 1e-9)
	assert.Contains(t, calc.Metadata["errors"], "broken: no signal")
}

func TestAggregate_WeightedAverageMatchesFormula(t *testing.T) {
	cases := []struct {
		values, weights []float64
	}{
		{[]float64{0.1, 0.5, 0.9}, []float64{1, 2, 3}},
		{[]float64{-0.4, 0.7}, []float64{0.25, 4}},
		{[]float64{0.3}, []float64{7}},
	}
	for _, tc := range cases {
		var num, den float64
		for i := range tc.values {
			num += tc.values[i] * tc.weights[i]
			den += tc.weights[i]
		}
		assert.InDelta(t, num/den, Aggregate(WeightedAverage, tc.values, tc.weights), 1e-12)
	}
}

func TestAggregate_Strategies(t *testing.T) {
	values := []float64{0.25, 1}
	weights := []float64{1, 1}

	assert.Equal(t, 1.0, Aggregate(Max, values, weights))
	assert.Equal(t, 0.25, Aggregate(Min, values, weights))
	assert.InDelta(t, 0.5, Aggregate(Product, values, weights), 1e-9)
	assert.InDelta(t, 0.4, Aggregate(HarmonicMean, values, weights), 1e-9)

	// floor keeps non-positive values from collapsing the product
	assert.InDelta(t, math.Sqrt(0.01*1), Aggregate(Product, []float64{-0.5, 1}, weights), 1e-9)

	// zero weights fall back to equal weighting
	assert.InDelta(t, 0.625, Aggregate(WeightedAverage, values, []float64{0, 0}), 1e-9)
}

func TestConsistency_DecreasesWithSpread(t *testing.T) {
	prev := Consistency([]float64{0.5, 0.5})
	assert.Equal(t, 1.0, prev)
	for _, spread := range []float64{0.05, 0.1, 0.2, 0.3, 0.45} {
		c := Consistency([]float64{0.5 - spread, 0.5 + spread})
		assert.Less(t, c, prev, "spread %v", spread)
		prev = c
	}
	assert.Equal(t, 0.0, Consistency([]float64{-1, 1}))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "code_quality", SanitizeName("Code Quality!"))
	assert.Equal(t, "reward", SanitizeName("!!"))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"binary", "linear", "thresholded"}, r.Kinds())

	rw, err := r.New(Spec{Kind: "binary", Config: Config{Params: map[string]any{"pass_reward": 0.5, "fail_reward": -1}}})
	require.NoError(t, err)
	assert.Equal(t, "binary", rw.Name())
	calc, err := rw.Calculate(context.Background(), verify.NewResult(0.2, ""))
	require.NoError(t, err)
	assert.Equal(t, -1.0, calc.Reward)

	_, err = r.New(Spec{Kind: "curve"})
	assert.ErrorIs(t, err, ErrUnknownReward)

	comp, err := r.NewComposite(CompositeConfig{Strategy: Max}, []Spec{{Kind: "linear"}, {Kind: "binary"}})
	require.NoError(t, err)
	calc, err = comp.Calculate(context.Background(), verify.NewResult(0.9, ""))
	require.NoError(t, err)
	assert.Equal(t, 1.0, calc.Reward)
}
