// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/event"
)

const namespace = "steward"

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// MongoPoolConnections tracks driver connection pool state.
	MongoPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mongo",
			Name:      "pool_connections",
			Help:      "Number of MongoDB connections by state",
		},
		[]string{"state"},
	)
)

// PoolMonitor returns a driver pool monitor that keeps the connection
// gauges current. Pass it to the client options at connect time.
func PoolMonitor() *event.PoolMonitor {
	return &event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				MongoPoolConnections.WithLabelValues("open").Inc()
			case event.ConnectionClosed:
				MongoPoolConnections.WithLabelValues("open").Dec()
			case event.ConnectionCheckedOut:
				MongoPoolConnections.WithLabelValues("in_use").Inc()
			case event.ConnectionCheckedIn:
				MongoPoolConnections.WithLabelValues("in_use").Dec()
			}
		},
	}
}
