// chatguard/pkg/runtime/metrics.go

package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricNamespace = "chatguard"
	MetricSubsystem = "rules"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Subsystem: MetricSubsystem,
		Name:      "evaluations_total",
		Help:      "Evaluations run, by category",
	}, []string{"category"})

	matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Subsystem: MetricSubsystem,
		Name:      "matches_total",
		Help:      "Operators that fired, by category and operator",
	}, []string{"category", "rule"})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricNamespace,
		Subsystem: MetricSubsystem,
		Name:      "evaluation_seconds",
		Help:      "Time spent in one evaluation, by category",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
	}, []string{"category"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Subsystem: MetricSubsystem,
		Name:      "outcomes_total",
		Help:      "Evaluation outcomes, by category and outcome",
	}, []string{"category", "outcome"})

	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricNamespace,
		Subsystem: MetricSubsystem,
		Name:      "reloads_total",
		Help:      "Rule reloads, by result",
	}, []string{"result"})
)
