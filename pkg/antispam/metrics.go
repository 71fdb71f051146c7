// chatguard/pkg/antispam/metrics.go

package antispam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatguard",
		Subsystem: "antispam",
		Name:      "blocks_total",
		Help:      "Messages and commands blocked, by kind and check",
	}, []string{"kind", "check"})

	rewritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatguard",
		Subsystem: "antispam",
		Name:      "rewrites_total",
		Help:      "Messages rewritten, by kind and check",
	}, []string{"kind", "check"})

	floodsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatguard",
		Subsystem: "antispam",
		Name:      "join_flood_flags_total",
		Help:      "Senders flagged by join flood detection",
	})
)
