package monitoring

import (
	"maps"
	"sync"
	"time"

	"rlvr/internal/loop"
	"rlvr/internal/training"
)

// Event is a progress notification pushed to subscribers.
type Event struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id"`
	Episode   int       `json:"episode"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor keeps the latest value of every run metric and fans episode
// events out to subscribers. It implements training.Observer and
// loop.Observer.
type Monitor struct {
	metrics      map[string]any
	metricsMutex sync.RWMutex
	startTime    time.Time

	subsMutex sync.Mutex
	subs      map[int]chan Event
	nextSub   int
}

// NewMonitor creates a new monitoring instance
func NewMonitor() *Monitor {
	return &Monitor{
		metrics:   make(map[string]any),
		startTime: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// RecordMetric records a metric value
func (m *Monitor) RecordMetric(name string, value any) {
	m.metricsMutex.Lock()
	defer m.metricsMutex.Unlock()
	m.metrics[name] = value
}

// GetMetric returns a specific metric value
func (m *Monitor) GetMetric(name string) (any, bool) {
	m.metricsMutex.RLock()
	defer m.metricsMutex.RUnlock()
	value, exists := m.metrics[name]
	return value, exists
}

// GetMetrics returns a copy of all current metrics plus uptime.
func (m *Monitor) GetMetrics() map[string]any {
	m.metricsMutex.RLock()
	metrics := maps.Clone(m.metrics)
	m.metricsMutex.RUnlock()

	metrics["uptime_seconds"] = time.Since(m.startTime).Seconds()
	return metrics
}

// Reset clears all metrics
func (m *Monitor) Reset() {
	m.metricsMutex.Lock()
	defer m.metricsMutex.Unlock()
	clear(m.metrics)
}

// RecordEvaluationResult records metrics under an "<agent>_<suite>_" prefix.
func (m *Monitor) RecordEvaluationResult(agent, suite string, metrics map[string]any) {
	m.metricsMutex.Lock()
	defer m.metricsMutex.Unlock()

	prefix := agent + "_" + suite + "_"
	for k, v := range metrics {
		m.metrics[prefix+k] = v
	}
	m.metrics[prefix+"last_evaluated"] = time.Now().Format(time.RFC3339)
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Slow subscribers miss events rather than block the run.
func (m *Monitor) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	m.subsMutex.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subsMutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMutex.Lock()
			delete(m.subs, id)
			m.subsMutex.Unlock()
			close(ch)
		})
	}
}

func (m *Monitor) publish(ev Event) {
	m.subsMutex.Lock()
	defer m.subsMutex.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Monitor) TrainingStep(_ string, _, step int, r training.StepResult) {
	m.RecordMetric("trainer_last_step", step)
	m.RecordMetric("trainer_last_step_score", r.Score)
}

func (m *Monitor) TrainingEpisode(runID string, em training.Metrics) {
	m.recordEpisode("trainer", runID, em.Episode, em.AverageScore, em.AverageReward, em.SuccessRate, em.ConvergenceScore)
	m.publish(Event{Type: "episode", Source: "trainer", RunID: runID, Episode: em.Episode, Data: em, Timestamp: em.Timestamp})
}

func (m *Monitor) LoopStep(_ string, _ int, rec loop.StepRecord) {
	m.RecordMetric("loop_last_step", rec.Step)
	m.RecordMetric("loop_last_step_score", rec.Score)
}

func (m *Monitor) LoopEpisode(runID string, em loop.Metrics) {
	m.recordEpisode("loop", runID, em.Episode, em.AverageScore, em.AverageReward, em.SuccessRate, em.ConvergenceScore)
	m.RecordMetric("loop_total_reward", em.TotalReward)
	m.publish(Event{Type: "episode", Source: "loop", RunID: runID, Episode: em.Episode, Data: em, Timestamp: em.Timestamp})
}

func (m *Monitor) recordEpisode(source, runID string, episode int, score, reward, success, convergence float64) {
	m.metricsMutex.Lock()
	defer m.metricsMutex.Unlock()
	m.metrics[source+"_run_id"] = runID
	m.metrics[source+"_episode"] = episode
	m.metrics[source+"_average_score"] = score
	m.metrics[source+"_average_reward"] = reward
	m.metrics[source+"_success_rate"] = success
	m.metrics[source+"_convergence_score"] = convergence
}
