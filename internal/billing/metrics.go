package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "steward"

var (
	remindersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "reminders_sent_total",
			Help:      "Payment reminders sent by the scheduler, by stage.",
		},
		[]string{"stage"},
	)

	panelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "panel_calls_total",
			Help:      "Panel suspend/unsuspend calls, by operation and result.",
		},
		[]string{"operation", "result"},
	)

	confirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "confirmations_total",
			Help:      "Confirmed payment and cancellation decisions.",
		},
		[]string{"kind"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "scan_duration_seconds",
			Help:      "Duration of a full due-subscription scan.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func recordPanelCall(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	panelCallsTotal.WithLabelValues(operation, result).Inc()
}
