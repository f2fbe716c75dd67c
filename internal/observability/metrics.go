// Package observability instruments graph storage with Prometheus metrics
// and OpenTelemetry spans.
package observability

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics definitions
var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_office_storage_operations_total",
		Help: "Total number of storage operations by backend, operation and outcome.",
	}, []string{"backend", "op", "outcome"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_office_storage_operation_duration_seconds",
		Help:    "Time spent in a storage operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op"})

	GraphNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_office_graph_nodes",
		Help: "Number of nodes seen by the last Stats call.",
	}, []string{"backend"})

	GraphEdges = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agent_office_graph_edges",
		Help: "Number of edges seen by the last Stats call.",
	}, []string{"backend"})
)

// WriteText writes everything g gathers in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
