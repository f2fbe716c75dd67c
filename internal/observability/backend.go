package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/richardanaya/agent-office/internal/graph"
)

const instrumentationName = "github.com/richardanaya/agent-office/internal/graph"

// Backend wraps a graph.Backend, counting and timing every call and opening
// a span per call.
type Backend struct {
	next   graph.Backend
	name   string
	tracer trace.Tracer
}

// Option configures an instrumented Backend.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
}

// WithTracerProvider sets the span source. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// Instrument returns next wrapped with metrics and tracing. name is the
// "backend" label, e.g. "memory" or "sqlite".
func Instrument(next graph.Backend, name string, opts ...Option) *Backend {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	return &Backend{
		next:   next,
		name:   name,
		tracer: o.tracerProvider.Tracer(instrumentationName),
	}
}

// Unwrap returns the wrapped backend.
func (b *Backend) Unwrap() graph.Backend { return b.next }

// observe runs fn inside a span named "graph.<op>" and records its outcome.
func (b *Backend) observe(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := b.tracer.Start(ctx, "graph."+op, trace.WithAttributes(
		append(attrs, attribute.String("graph.backend", b.name))...,
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	OperationDuration.WithLabelValues(b.name, op).Observe(time.Since(start).Seconds())

	outcome := graph.OutcomeOf(err)
	OperationsTotal.WithLabelValues(b.name, op, string(outcome)).Inc()
	span.SetAttributes(attribute.String("graph.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func idAttr(key string, id uuid.UUID) attribute.KeyValue {
	return attribute.String(key, id.String())
}

func (b *Backend) CreateNode(ctx context.Context, node *graph.Node) error {
	return b.observe(ctx, "CreateNode", func(ctx context.Context) error {
		return b.next.CreateNode(ctx, node)
	}, idAttr("graph.node_id", node.ID), attribute.String("graph.node_type", node.Type))
}

func (b *Backend) GetNode(ctx context.Context, id uuid.UUID) (node *graph.Node, err error) {
	err = b.observe(ctx, "GetNode", func(ctx context.Context) error {
		node, err = b.next.GetNode(ctx, id)
		return err
	}, idAttr("graph.node_id", id))
	return node, err
}

func (b *Backend) UpdateNode(ctx context.Context, node *graph.Node) error {
	return b.observe(ctx, "UpdateNode", func(ctx context.Context) error {
		return b.next.UpdateNode(ctx, node)
	}, idAttr("graph.node_id", node.ID))
}

func (b *Backend) DeleteNode(ctx context.Context, id uuid.UUID) error {
	return b.observe(ctx, "DeleteNode", func(ctx context.Context) error {
		return b.next.DeleteNode(ctx, id)
	}, idAttr("graph.node_id", id))
}

func (b *Backend) CreateEdge(ctx context.Context, edge *graph.Edge) error {
	return b.observe(ctx, "CreateEdge", func(ctx context.Context) error {
		return b.next.CreateEdge(ctx, edge)
	}, idAttr("graph.edge_id", edge.ID), attribute.String("graph.edge_type", edge.Type))
}

func (b *Backend) GetEdge(ctx context.Context, id uuid.UUID) (edge *graph.Edge, err error) {
	err = b.observe(ctx, "GetEdge", func(ctx context.Context) error {
		edge, err = b.next.GetEdge(ctx, id)
		return err
	}, idAttr("graph.edge_id", id))
	return edge, err
}

func (b *Backend) DeleteEdge(ctx context.Context, id uuid.UUID) error {
	return b.observe(ctx, "DeleteEdge", func(ctx context.Context) error {
		return b.next.DeleteEdge(ctx, id)
	}, idAttr("graph.edge_id", id))
}

func (b *Backend) GetEdgesFrom(ctx context.Context, nodeID uuid.UUID, edgeType string) (edges []*graph.Edge, err error) {
	err = b.observe(ctx, "GetEdgesFrom", func(ctx context.Context) error {
		edges, err = b.next.GetEdgesFrom(ctx, nodeID, edgeType)
		return err
	}, idAttr("graph.node_id", nodeID), attribute.String("graph.edge_type", edgeType))
	return edges, err
}

func (b *Backend) GetEdgesTo(ctx context.Context, nodeID uuid.UUID, edgeType string) (edges []*graph.Edge, err error) {
	err = b.observe(ctx, "GetEdgesTo", func(ctx context.Context) error {
		edges, err = b.next.GetEdgesTo(ctx, nodeID, edgeType)
		return err
	}, idAttr("graph.node_id", nodeID), attribute.String("graph.edge_type", edgeType))
	return edges, err
}

func (b *Backend) GetNeighbors(ctx context.Context, nodeID uuid.UUID, edgeType string, dir graph.Direction) (nodes []*graph.Node, err error) {
	err = b.observe(ctx, "GetNeighbors", func(ctx context.Context) error {
		nodes, err = b.next.GetNeighbors(ctx, nodeID, edgeType, dir)
		return err
	}, idAttr("graph.node_id", nodeID), attribute.String("graph.direction", dir.String()))
	return nodes, err
}

func (b *Backend) Search(ctx context.Context, q graph.SearchQuery) (res *graph.SearchResults[*graph.Node], err error) {
	err = b.observe(ctx, "Search", func(ctx context.Context) error {
		res, err = b.next.Search(ctx, q)
		return err
	}, attribute.StringSlice("graph.node_types", q.NodeTypes), attribute.Int("graph.limit", q.Limit), attribute.Int("graph.offset", q.Offset))
	return res, err
}

func (b *Backend) CountNodes(ctx context.Context, q graph.SearchQuery) (n int, err error) {
	err = b.observe(ctx, "CountNodes", func(ctx context.Context) error {
		n, err = b.next.CountNodes(ctx, q)
		return err
	}, attribute.StringSlice("graph.node_types", q.NodeTypes))
	return n, err
}

// Stats also refreshes the node and edge gauges.
func (b *Backend) Stats(ctx context.Context) (stats *graph.Stats, err error) {
	err = b.observe(ctx, "Stats", func(ctx context.Context) error {
		stats, err = b.next.Stats(ctx)
		return err
	})
	if err == nil {
		GraphNodes.WithLabelValues(b.name).Set(float64(stats.NodeCount))
		GraphEdges.WithLabelValues(b.name).Set(float64(stats.EdgeCount))
	}
	return stats, err
}

func (b *Backend) Close() error {
	return b.next.Close()
}

var _ graph.Backend = (*Backend)(nil)
