package observability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/richardanaya/agent-office/internal/graph"
	"github.com/richardanaya/agent-office/internal/kb"
)

func newInstrumented(t *testing.T, name string) (*Backend, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return Instrument(graph.NewInMemoryBackend(), name, WithTracerProvider(tp)), recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestBackend_CountsOutcomes(t *testing.T) {
	backend, _ := newInstrumented(t, "test-outcomes")
	ctx := context.Background()

	node := graph.NewNode("agent", nil)
	require.NoError(t, backend.CreateNode(ctx, node))
	err := backend.CreateNode(ctx, node)
	require.True(t, graph.IsAlreadyExists(err))
	_, err = backend.GetNode(ctx, uuid.New())
	require.True(t, graph.IsNotFound(err))
	_, err = backend.GetNode(ctx, node.ID)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues("test-outcomes", "CreateNode", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues("test-outcomes", "CreateNode", "already_exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues("test-outcomes", "GetNode", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(OperationsTotal.WithLabelValues("test-outcomes", "GetNode", "ok")))
	assert.Positive(t, testutil.CollectAndCount(OperationDuration, "agent_office_storage_operation_duration_seconds"))
}

func TestBackend_RecordsSpans(t *testing.T) {
	backend, recorder := newInstrumented(t, "test-spans")
	ctx := context.Background()

	a := graph.NewNode("agent", nil)
	require.NoError(t, backend.CreateNode(ctx, a))
	_, err := backend.GetEdge(ctx, uuid.New())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "graph.CreateNode", spans[0].Name())
	v, ok := spanAttr(spans[0], "graph.node_id")
	require.True(t, ok)
	assert.Equal(t, a.ID.String(), v.AsString())
	v, _ = spanAttr(spans[0], "graph.backend")
	assert.Equal(t, "test-spans", v.AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "graph.GetEdge", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	v, _ = spanAttr(spans[1], "graph.outcome")
	assert.Equal(t, "not_found", v.AsString())
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

func TestBackend_StatsUpdatesGauges(t *testing.T) {
	backend, _ := newInstrumented(t, "test-gauges")
	ctx := context.Background()

	a := graph.NewNode("agent", nil)
	b := graph.NewNode("agent", nil)
	require.NoError(t, backend.CreateNode(ctx, a))
	require.NoError(t, backend.CreateNode(ctx, b))
	require.NoError(t, backend.CreateEdge(ctx, graph.NewEdge("knows", a.ID, b.ID, nil)))

	stats, err := backend.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.NodeCount)
	assert.Equal(t, 2.0, testutil.ToFloat64(GraphNodes.WithLabelValues("test-gauges")))
	assert.Equal(t, 1.0, testutil.ToFloat64(GraphEdges.WithLabelValues("test-gauges")))
}

// TestBackend_Transparent runs traversal and the knowledge base through the
// decorator to check it changes no results.
func TestBackend_Transparent(t *testing.T) {
	backend, recorder := newInstrumented(t, "test-transparent")
	ctx := context.Background()

	notes := kb.NewService(backend)
	root, err := notes.CreateNote(ctx, "Root", "")
	require.NoError(t, err)
	child, err := notes.CreateBranch(ctx, root.Address, "Child", "")
	require.NoError(t, err)

	related, err := graph.Related(ctx, backend, root.ID, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, child.ID, related[0].ID)

	path, err := graph.ShortestPath(ctx, backend, child.ID, root.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{child.ID, root.ID}, path)

	assert.NotEmpty(t, recorder.Ended())
	assert.Same(t, backend.next, backend.Unwrap())
	require.NoError(t, backend.Close())
}
