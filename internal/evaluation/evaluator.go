package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rlvr/internal/training"
)

// ErrUnknownSuite is returned for a suite ID that was never registered.
var ErrUnknownSuite = errors.New("unknown evaluation suite")

// Evaluator holds named benchmark suites and measures agents against them
// without letting the agents learn.
type Evaluator struct {
	mu     sync.RWMutex
	suites map[string]*Suite
}

// Suite is a fixed set of tasks an agent is measured on.
type Suite struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Tasks       []training.Task `json:"-"`
}

// EvaluationResult is one agent's measurement on one suite.
type EvaluationResult struct {
	Agent      string               `json:"agent"`
	Suite      string               `json:"suite"`
	Metrics    map[string]any       `json:"metrics"`
	Evaluation *training.Evaluation `json:"evaluation"`
	Timestamp  time.Time            `json:"timestamp"`
}

func NewEvaluator() *Evaluator {
	return &Evaluator{suites: make(map[string]*Suite)}
}

// Register adds or replaces a suite.
func (e *Evaluator) Register(s *Suite) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suites[s.ID] = s
}

// HasSuite checks if a suite exists
func (e *Evaluator) HasSuite(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.suites[id]
	return exists
}

// Suites returns all registered suites ordered by ID.
func (e *Evaluator) Suites() []*Suite {
	e.mu.RLock()
	suites := make([]*Suite, 0, len(e.suites))
	for _, s := range e.suites {
		suites = append(suites, s)
	}
	e.mu.RUnlock()
	sort.Slice(suites, func(i, j int) bool { return suites[i].ID < suites[j].ID })
	return suites
}

// Evaluate runs n attempts of the suite through tr's agent.
func (e *Evaluator) Evaluate(ctx context.Context, tr *training.Trainer, agentName, suiteID string, n int) (*EvaluationResult, error) {
	e.mu.RLock()
	suite, ok := e.suites[suiteID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSuite, suiteID)
	}
	if len(suite.Tasks) == 0 {
		return nil, fmt.Errorf("suite %s: %w", suiteID, training.ErrNoTasks)
	}

	ev, err := tr.Evaluate(ctx, suite.Tasks, n)
	if err != nil {
		return nil, fmt.Errorf("evaluate suite %s: %w", suiteID, err)
	}

	metrics := map[string]any{
		"attempts":       ev.Attempts,
		"success_rate":   ev.SuccessRate,
		"average_score":  ev.AverageScore,
		"average_reward": ev.AverageReward,
	}
	for _, te := range ev.PerTask {
		metrics[te.Task+"_success_rate"] = te.SuccessRate
	}

	return &EvaluationResult{
		Agent:      agentName,
		Suite:      suiteID,
		Metrics:    metrics,
		Evaluation: ev,
		Timestamp:  time.Now(),
	}, nil
}
