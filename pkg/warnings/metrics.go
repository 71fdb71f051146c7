// chatguard/pkg/warnings/metrics.go

package warnings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatguard_warning_points_granted_total",
			Help: "Warning points granted, by set",
		},
		[]string{"set"},
	)

	actionsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatguard_warning_actions_fired_total",
			Help: "Warning set actions fired, by set",
		},
		[]string{"set"},
	)
)
