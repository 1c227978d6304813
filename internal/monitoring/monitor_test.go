package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlvr/internal/loop"
	"rlvr/internal/training"
)

func TestMonitor_GetMetrics(t *testing.T) {
	m := NewMonitor()
	m.RecordMetric("test_metric", 42)

	metrics := m.GetMetrics()
	assert.Equal(t, 42, metrics["test_metric"])
	assert.Contains(t, metrics, "uptime_seconds")

	v, ok := m.GetMetric("test_metric")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestMonitor_RecordEvaluationResult(t *testing.T) {
	m := NewMonitor()
	m.RecordEvaluationResult("solver", "arithmetic", map[string]any{"success_rate": 0.85})

	metrics := m.GetMetrics()
	assert.Equal(t, 0.85, metrics["solver_arithmetic_success_rate"])
	assert.Contains(t, metrics, "solver_arithmetic_last_evaluated")
}

func TestMonitor_Reset(t *testing.T) {
	m := NewMonitor()
	m.RecordMetric("test_metric", 42)
	m.Reset()

	metrics := m.GetMetrics()
	assert.NotContains(t, metrics, "test_metric")
	assert.Contains(t, metrics, "uptime_seconds")
}

func TestMonitor_ObservesEpisodes(t *testing.T) {
	m := NewMonitor()
	events, cancel := m.Subscribe(4)
	defer cancel()

	m.TrainingStep("run-1", 1, 3, training.StepResult{Score: 0.5})
	m.TrainingEpisode("run-1", training.Metrics{Episode: 1, AverageScore: 0.6, Timestamp: time.Now()})
	m.LoopEpisode("run-2", loop.Metrics{Episode: 2, TotalReward: 3})

	metrics := m.GetMetrics()
	assert.Equal(t, 3, metrics["trainer_last_step"])
	assert.Equal(t, "run-1", metrics["trainer_run_id"])
	assert.Equal(t, 0.6, metrics["trainer_average_score"])
	assert.Equal(t, 2, metrics["loop_episode"])
	assert.Equal(t, 3.0, metrics["loop_total_reward"])

	ev := <-events
	assert.Equal(t, "trainer", ev.Source)
	assert.Equal(t, 1, ev.Episode)
	ev = <-events
	assert.Equal(t, "loop", ev.Source)
	assert.Equal(t, "run-2", ev.RunID)
}

func TestMonitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMonitor()
	events, cancel := m.Subscribe(1)

	for i := 1; i <= 5; i++ {
		m.TrainingEpisode("run", training.Metrics{Episode: i})
	}
	ev := <-events
	assert.Equal(t, 1, ev.Episode)

	cancel()
	cancel()
	_, open := <-events
	require.False(t, open)
}
