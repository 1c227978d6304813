package verify

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ExactMatch scores 1 when the output equals the expected value and 0 otherwise.
// Values of different types are compared by their string form.
type ExactMatch struct {
	Base
}

func NewExactMatch(cfg Config) *ExactMatch {
	if cfg.Name == "" {
		cfg.Name = "exact_match"
	}
	return &ExactMatch{Base: NewBase(cfg)}
}

func (v *ExactMatch) Verify(_ context.Context, output, expected any) (*Result, error) {
	if expected == nil {
		res := NewResult(0, "no expected value to compare against")
		res.Warnings = []string{"expected value missing"}
		return res, nil
	}

	equal := reflect.DeepEqual(output, expected)
	if !equal && reflect.TypeOf(output) != reflect.TypeOf(expected) {
		equal = fmt.Sprint(output) == fmt.Sprint(expected)
	}
	if !equal {
		return NewResult(0, fmt.Sprintf("got %v, want %v", output, expected)).WithConfidence(1), nil
	}

	res := NewResult(1, "output matches expected value").WithConfidence(1)
	res.LearnedPattern = fmt.Sprintf("exact:%T", expected)
	return res, nil
}

// NumericTolerance scores numeric outputs by distance to the expected value:
// score = max(0, 1 - |output-expected| / tolerance).
type NumericTolerance struct {
	Base
	tolerance float64
}

func NewNumericTolerance(cfg Config) (*NumericTolerance, error) {
	if cfg.Name == "" {
		cfg.Name = "numeric_tolerance"
	}
	tol := floatParam(cfg.Params, "tolerance", 1)
	if tol <= 0 {
		return nil, fmt.Errorf("numeric_tolerance: tolerance must be positive, got %v", tol)
	}
	return &NumericTolerance{Base: NewBase(cfg), tolerance: tol}, nil
}

func (v *NumericTolerance) Verify(_ context.Context, output, expected any) (*Result, error) {
	got, err := ToFloat(output)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	want, err := ToFloat(expected)
	if err != nil {
		return nil, fmt.Errorf("expected: %w", err)
	}

	delta := math.Abs(got - want)
	score := math.Max(0, 1-delta/v.tolerance)
	res := NewResult(score, fmt.Sprintf("|%g - %g| = %g (tolerance %g)", got, want, delta, v.tolerance))
	res.Breakdown = map[string]float64{"delta": delta, "closeness": score}
	switch {
	case delta == 0:
		res.LearnedPattern = "numeric:exact"
	case score >= 0.9:
		res.LearnedPattern = "numeric:close"
	}
	return res.WithConfidence(1), nil
}

// Contains scores the fraction of expected substrings found in the output.
type Contains struct {
	Base
	caseSensitive bool
}

func NewContains(cfg Config) *Contains {
	if cfg.Name == "" {
		cfg.Name = "contains"
	}
	sensitive, _ := cfg.Params["case_sensitive"].(bool)
	return &Contains{Base: NewBase(cfg), caseSensitive: sensitive}
}

func (v *Contains) Verify(_ context.Context, output, expected any) (*Result, error) {
	var needles []string
	switch e := expected.(type) {
	case string:
		needles = []string{e}
	case []string:
		needles = e
	case []any:
		for _, item := range e {
			needles = append(needles, fmt.Sprint(item))
		}
	case nil:
		return nil, fmt.Errorf("contains: expected value required")
	default:
		needles = []string{fmt.Sprint(e)}
	}
	if len(needles) == 0 {
		return NewResult(1, "nothing to match"), nil
	}

	haystack := fmt.Sprint(output)
	if !v.caseSensitive {
		haystack = strings.ToLower(haystack)
	}

	var missing []string
	for _, n := range needles {
		probe := n
		if !v.caseSensitive {
			probe = strings.ToLower(n)
		}
		if !strings.Contains(haystack, probe) {
			missing = append(missing, n)
		}
	}

	found := len(needles) - len(missing)
	res := NewResult(float64(found)/float64(len(needles)), fmt.Sprintf("%d of %d expected fragments present", found, len(needles)))
	if len(missing) > 0 {
		res.Warnings = []string{"missing: " + strings.Join(missing, ", ")}
	} else {
		res.LearnedPattern = "contains:all"
	}
	return res, nil
}

// RewardSignal scores an environment reward passed as the expected value,
// mapping [min_reward, max_reward] (default [-1, 1]) onto [0, 1]. The output
// is ignored.
type RewardSignal struct {
	Base
	lo, hi float64
}

func NewRewardSignal(cfg Config) (*RewardSignal, error) {
	if cfg.Name == "" {
		cfg.Name = "reward_signal"
	}
	lo := floatParam(cfg.Params, "min_reward", -1)
	hi := floatParam(cfg.Params, "max_reward", 1)
	if hi <= lo {
		return nil, fmt.Errorf("reward_signal: max_reward %v must exceed min_reward %v", hi, lo)
	}
	return &RewardSignal{Base: NewBase(cfg), lo: lo, hi: hi}, nil
}

func (v *RewardSignal) Verify(_ context.Context, _, expected any) (*Result, error) {
	r, err := ToFloat(expected)
	if err != nil {
		return nil, fmt.Errorf("reward_signal: %w", err)
	}
	res := NewResult((r-v.lo)/(v.hi-v.lo), fmt.Sprintf("environment reward %g", r)).WithConfidence(1)
	switch {
	case res.Score >= 0.9:
		res.LearnedPattern = "reward:high"
	case r < 0:
		res.Warnings = []string{"negative reward"}
	}
	return res, nil
}

// ToFloat converts common numeric representations to a finite float64.
func ToFloat(v any) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}
	return f, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	case fmt.Stringer:
		return toFloat(n.String())
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func floatParam(params map[string]any, key string, def float64) float64 {
	raw, ok := params[key]
	if !ok {
		return def
	}
	f, err := ToFloat(raw)
	if err != nil {
		return def
	}
	return f
}
