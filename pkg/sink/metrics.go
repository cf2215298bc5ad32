package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SinkWrites tracks completed writes by sink
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nepse_sink_writes_total",
			Help: "Total number of aggregate writes",
		},
		[]string{"sink"}, // "file", "redis"
	)

	// SinkBytes tracks the size of the last write by sink
	SinkBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nepse_sink_bytes",
			Help: "Size of the last written aggregate in bytes",
		},
		[]string{"sink"},
	)

	// SinkErrors tracks sink operation errors
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nepse_sink_errors_total",
			Help: "Total number of sink operation errors",
		},
		[]string{"sink", "operation"}, // "write", "read", "stat"
	)
)
