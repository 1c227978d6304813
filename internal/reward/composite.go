package reward

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"rlvr/internal/stats"
	"rlvr/internal/verify"
)

var (
	// ErrNoSubRewards is returned when a composite is built without sub-rewards.
	ErrNoSubRewards = errors.New("composite reward requires at least one sub-reward")
	// ErrUnknownStrategy is returned for an unsupported aggregation strategy.
	ErrUnknownStrategy = errors.New("unknown aggregation strategy")
)

// Strategy selects how sub-reward values are aggregated.
type Strategy string

const (
	WeightedAverage Strategy = "weighted_average"
	Max             Strategy = "max"
	Min             Strategy = "min"
	Product         Strategy = "product"
	HarmonicMean    Strategy = "harmonic_mean"
)

const (
	// maxSpread is the standard deviation treated as fully inconsistent.
	maxSpread = 0.5
	// maxPenalty is subtracted when consistency drops to zero.
	maxPenalty = 0.2
	// valueFloor keeps product and harmonic mean away from zero and negatives.
	valueFloor = 0.01
)

// CompositeConfig configures a Composite reward.
type CompositeConfig struct {
	Config                `yaml:",inline"`
	Strategy              Strategy `yaml:"strategy" json:"strategy"`
	PenalizeInconsistency bool     `yaml:"penalize_inconsistency" json:"penalize_inconsistency"`
	ConsistencyThreshold  float64  `yaml:"consistency_threshold" json:"consistency_threshold"`
}

// Composite evaluates several rewards on the same verification result and
// aggregates their values.
type Composite struct {
	Base
	strategy             Strategy
	penalize             bool
	consistencyThreshold float64
	rewards              []Reward
}

// NewComposite validates the configuration. An empty reward list or unknown
// strategy is a programmer error and is reported immediately.
func NewComposite(cfg CompositeConfig, rewards ...Reward) (*Composite, error) {
	if len(rewards) == 0 {
		return nil, ErrNoSubRewards
	}
	if cfg.Strategy == "" {
		cfg.Strategy = WeightedAverage
	}
	switch cfg.Strategy {
	case WeightedAverage, Max, Min, Product, HarmonicMean:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
	if cfg.ConsistencyThreshold <= 0 {
		cfg.ConsistencyThreshold = 0.7
	}
	if cfg.Name == "" {
		cfg.Name = "composite"
	}
	return &Composite{
		Base:                 NewBase(cfg.Config),
		strategy:             cfg.Strategy,
		penalize:             cfg.PenalizeInconsistency,
		consistencyThreshold: cfg.ConsistencyThreshold,
		rewards:              rewards,
	}, nil
}

func (c *Composite) Strategy() Strategy { return c.strategy }

// Calculate never fails because of a sub-reward: a failing sub-reward counts
// as reward 0 with confidence 0 and its error is kept in the metadata.
func (c *Composite) Calculate(ctx context.Context, res *verify.Result) (*Calculation, error) {
	n := len(c.rewards)
	values := make([]float64, n)
	weights := make([]float64, n)
	breakdown := make(map[string]float64, 2*n+3)
	var failures []string
	var confSum float64

	for i, r := range c.rewards {
		weights[i] = r.Weight()
		calc, err := r.Calculate(ctx, res)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.Name(), err))
			calc = &Calculation{}
		}
		values[i] = calc.Reward
		confSum += calc.Confidence

		key := SanitizeName(r.Name())
		breakdown[key+"_reward"] = calc.Reward
		breakdown[key+"_confidence"] = calc.Confidence
	}

	aggregate := Aggregate(c.strategy, values, weights)
	consistency := Consistency(values)

	var penalty float64
	if c.penalize && consistency < c.consistencyThreshold {
		penalty = (c.consistencyThreshold - consistency) / c.consistencyThreshold * maxPenalty
	}

	confidence := confSum/float64(n) + 0.1*consistency
	if n < 3 {
		confidence -= 0.05
	}
	confidence = clamp(confidence, 0.3, 0.99)

	breakdown["aggregate"] = aggregate
	breakdown["consistency"] = consistency
	breakdown["penalty"] = penalty

	meta := map[string]any{
		"strategy":    string(c.strategy),
		"sub_rewards": n,
	}
	if len(failures) > 0 {
		meta["errors"] = failures
	}

	return &Calculation{
		Reward:     c.Normalize(aggregate - penalty),
		Confidence: confidence,
		Reason:     fmt.Sprintf("%s of %d rewards (consistency %.2f)", c.strategy, n, consistency),
		Breakdown:  breakdown,
		Metadata:   meta,
	}, nil
}

// Aggregate combines values with the given strategy. When all weights are
// zero every value is weighted equally.
func Aggregate(strategy Strategy, values, weights []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	weights = effectiveWeights(weights, len(values))

	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}

	switch strategy {
	case Max:
		best := values[0]
		for _, v := range values[1:] {
			best = math.Max(best, v)
		}
		return best
	case Min:
		worst := values[0]
		for _, v := range values[1:] {
			worst = math.Min(worst, v)
		}
		return worst
	case Product:
		var logSum float64
		for i, v := range values {
			logSum += weights[i] * math.Log(math.Max(valueFloor, v))
		}
		return math.Exp(logSum / totalWeight)
	case HarmonicMean:
		var denom float64
		for i, v := range values {
			denom += weights[i] / math.Max(valueFloor, v)
		}
		return totalWeight / denom
	default:
		var sum float64
		for i, v := range values {
			sum += v * weights[i]
		}
		return sum / totalWeight
	}
}

// Consistency maps the population standard deviation of values onto [0, 1],
// where 1 means all sub-rewards agree.
func Consistency(values []float64) float64 {
	return 1 - math.Min(stats.StdDev(values)/maxSpread, 1)
}

func effectiveWeights(weights []float64, n int) []float64 {
	out := make([]float64, n)
	var total float64
	for i := range out {
		if i < len(weights) && weights[i] > 0 {
			out[i] = weights[i]
		}
		total += out[i]
	}
	if total == 0 {
		for i := range out {
			out[i] = 1
		}
	}
	return out
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeName lowercases name and replaces runs of other characters with "_".
func SanitizeName(name string) string {
	s := nonWord.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "reward"
	}
	return s
}
