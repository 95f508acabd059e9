package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryGathersRuntimeMetrics(t *testing.T) {
	families, err := NewRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}

func TestTracerProviderIssuesValidTraceIDs(t *testing.T) {
	provider, err := NewTracerProvider("folio-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(context.Background(), provider) })

	_, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.True(t, span.SpanContext().TraceID().IsValid())
}
