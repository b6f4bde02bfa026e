package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DecisionLabel string = "decision"
	OutcomeLabel  string = "outcome"
	ReasonLabel   string = "reason"
)

var (
	TrackedVolumes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volume_autoscaler_tracked_volumes",
		Help: "Number of volumes currently monitored",
	})

	VolumeUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "volume_autoscaler_volume_utilization_ratio",
		Help: "Used to total bytes ratio per mount point",
	}, []string{"mountpoint"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volume_autoscaler_decisions_total",
		Help: "Counter for scaling decisions by kind",
	}, []string{DecisionLabel, ReasonLabel})

	ResizeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volume_autoscaler_resize_attempts_total",
		Help: "Counter for finished resize attempts by outcome",
	}, []string{OutcomeLabel})

	ResizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "volume_autoscaler_resize_duration_seconds",
		Help:    "Wall time from resize submission to terminal state",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	ProviderErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_provider_errors_total",
		Help: "Counter for storage provider API call errors",
	})

	ProviderThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volume_autoscaler_provider_throttled_total",
		Help: "Counter for throttled storage provider API calls",
	})
)

func IncDecision(decision, reason string) {
	DecisionsTotal.WithLabelValues(decision, reason).Inc()
}

func IncResizeAttempt(outcome string) {
	ResizeAttemptsTotal.WithLabelValues(outcome).Inc()
}
