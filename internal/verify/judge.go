package verify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const judgePrompt = `You are grading the output of an automated agent.
Criteria: %s

Expected:
%v

Output:
%v

Reply with a single score between 0 and 1 on the first line, followed by a one sentence reason.`

var scorePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(/\s*(100|10))?`)

// LLMJudge asks a language model to grade an output against its expectation.
type LLMJudge struct {
	Base
	model    llms.Model
	criteria string
}

func NewLLMJudge(cfg Config, model llms.Model) (*LLMJudge, error) {
	if model == nil {
		return nil, errors.New("llm_judge: model is required")
	}
	if cfg.Name == "" {
		cfg.Name = "llm_judge"
	}
	criteria, _ := cfg.Params["criteria"].(string)
	if criteria == "" {
		criteria = "correctness and completeness with respect to the expected answer"
	}
	return &LLMJudge{Base: NewBase(cfg), model: model, criteria: criteria}, nil
}

func (j *LLMJudge) Verify(ctx context.Context, output, expected any) (*Result, error) {
	prompt := fmt.Sprintf(judgePrompt, j.criteria, expected, output)
	completion, err := llms.GenerateFromSinglePrompt(ctx, j.model, prompt, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("llm_judge: generate: %w", err)
	}

	score, err := ParseJudgeScore(completion)
	if err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(completion)
	if lines := strings.SplitN(reason, "\n", 2); len(lines) == 2 {
		reason = strings.TrimSpace(lines[1])
	}
	res := NewResult(score, reason).WithConfidence(0.7)
	res.Metadata = map[string]any{"completion": completion}
	if score >= 0.8 {
		res.LearnedPattern = "judge:approved"
	}
	return res, nil
}

// ParseJudgeScore extracts the first score in a completion. Scores written as
// n/10 or n/100, or bare values above 1, are rescaled into [0, 1].
func ParseJudgeScore(completion string) (float64, error) {
	m := scorePattern.FindStringSubmatch(completion)
	if m == nil {
		return 0, fmt.Errorf("llm_judge: no score in completion %q", completion)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("llm_judge: parse score: %w", err)
	}
	switch {
	case m[3] == "10":
		v /= 10
	case m[3] == "100":
		v /= 100
	case v > 1 && v <= 10:
		v /= 10
	case v > 10:
		v /= 100
	}
	return Clamp01(v), nil
}
