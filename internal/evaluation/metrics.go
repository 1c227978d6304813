package evaluation

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rlvr/internal/agents"
	"rlvr/internal/loop"
	"rlvr/internal/training"
)

const (
	sourceTrainer = "trainer"
	sourceLoop    = "loop"
)

// MetricsCollector exports training and loop progress as Prometheus metrics.
// It implements both training.Observer and loop.Observer.
type MetricsCollector struct {
	registry *prometheus.Registry

	steps         *prometheus.CounterVec
	stepScore     *prometheus.HistogramVec
	episodes      *prometheus.CounterVec
	averageScore  *prometheus.GaugeVec
	averageReward *prometheus.GaugeVec
	successRate   *prometheus.GaugeVec
	convergence   *prometheus.GaugeVec
	exploration   *prometheus.GaugeVec
}

// NewMetricsCollector creates a collector on its own registry.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlvr_steps_total",
				Help: "Steps taken, by outcome",
			},
			[]string{"source", "outcome"},
		),
		stepScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlvr_step_score",
				Help:    "Verification score per step",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"source"},
		),
		episodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlvr_episodes_total",
				Help: "Completed episodes",
			},
			[]string{"source"},
		),
		averageScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rlvr_episode_average_score",
				Help: "Average verification score of the last episode",
			},
			[]string{"source"},
		),
		averageReward: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rlvr_episode_average_reward",
				Help: "Average reward of the last episode",
			},
			[]string{"source"},
		),
		successRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rlvr_episode_success_rate",
				Help: "Share of successful steps in the last episode",
			},
			[]string{"source"},
		),
		convergence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rlvr_convergence_score",
				Help: "Stability of recent episode scores",
			},
			[]string{"source"},
		),
		exploration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rlvr_exploration_rate",
				Help: "Exploration rate in effect for the last episode",
			},
			[]string{"source"},
		),
	}

	mc.registry.MustRegister(
		mc.steps,
		mc.stepScore,
		mc.episodes,
		mc.averageScore,
		mc.averageReward,
		mc.successRate,
		mc.convergence,
		mc.exploration,
	)
	return mc
}

// Registry exposes the underlying registry, mostly for tests.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

func (mc *MetricsCollector) TrainingStep(_ string, _, _ int, r training.StepResult) {
	mc.recordStep(sourceTrainer, r.Score, r.Success, r.Error != "")
}

func (mc *MetricsCollector) TrainingEpisode(_ string, m training.Metrics) {
	mc.recordEpisode(sourceTrainer, m.AverageScore, m.AverageReward, m.SuccessRate, m.ConvergenceScore, m.ExplorationRate)
}

func (mc *MetricsCollector) LoopStep(_ string, _ int, rec loop.StepRecord) {
	mc.recordStep(sourceLoop, rec.Score, rec.Score >= agents.SuccessThreshold, rec.Error != "")
}

func (mc *MetricsCollector) LoopEpisode(_ string, m loop.Metrics) {
	mc.recordEpisode(sourceLoop, m.AverageScore, m.AverageReward, m.SuccessRate, m.ConvergenceScore, m.ExplorationRate)
}

func (mc *MetricsCollector) recordStep(source string, score float64, success, failed bool) {
	outcome := "failure"
	switch {
	case failed:
		outcome = "error"
	case success:
		outcome = "success"
	}
	mc.steps.WithLabelValues(source, outcome).Inc()
	mc.stepScore.WithLabelValues(source).Observe(score)
}

func (mc *MetricsCollector) recordEpisode(source string, score, reward, success, convergence, exploration float64) {
	mc.episodes.WithLabelValues(source).Inc()
	mc.averageScore.WithLabelValues(source).Set(score)
	mc.averageReward.WithLabelValues(source).Set(reward)
	mc.successRate.WithLabelValues(source).Set(success)
	mc.convergence.WithLabelValues(source).Set(convergence)
	mc.exploration.WithLabelValues(source).Set(exploration)
}
