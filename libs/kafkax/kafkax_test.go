package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, SplitBrokers(" k1:9092, ,k2:9092 "))
	assert.Empty(t, SplitBrokers(""))
}

func TestEventHeaders(t *testing.T) {
	h := EventHeaders("evt-1", "reminder.sent.v1", "clinic-a")
	assert.Equal(t, "evt-1", HeaderValue(h, "event_id"))
	assert.Equal(t, "reminder.sent.v1", HeaderValue(h, "event_type"))
	assert.Equal(t, "clinic-a", HeaderValue(h, "tenant_id"))
	assert.Len(t, EventHeaders("evt-2", "x", ""), 2)
}

func TestInjectTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("evt-1")}})
	assert.Equal(t, "evt-1", HeaderValue(headers, "event_id"))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", HeaderValue(headers, "traceparent"))
}

func TestReadyCheck_DisabledWithoutBrokers(t *testing.T) {
	assert.NoError(t, ReadyCheck("")(context.Background()))
}
