package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tailored-agentic-units/switchboard/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, observability.LevelVerbose.SlogLevel())
	assert.Equal(t, slog.LevelInfo, observability.LevelInfo.SlogLevel())
	assert.Equal(t, slog.LevelWarn, observability.LevelWarning.SlogLevel())
	assert.Equal(t, slog.LevelError, observability.LevelError.SlogLevel())
}

func TestSlogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := observability.NewSlogObserver(logger)

	obs.OnEvent(context.Background(), observability.Event{
		Type:      "state.transition",
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "wave-toggle",
		Data:      map[string]any{"to": "waving"},
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "msg=state.transition")
	assert.Contains(t, out, "source=wave-toggle")
	assert.Contains(t, out, "to=waving")
}

func TestMultiObserver_SkipsNil(t *testing.T) {
	first := observability.NewRecorder()
	second := observability.NewRecorder()
	multi := observability.NewMultiObserver(first, nil, second)

	observability.Emit(context.Background(), multi, "client.send", observability.LevelInfo, "popup", nil)

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestLevelFilter(t *testing.T) {
	rec := observability.NewRecorder()
	filter := observability.LevelFilter{Min: observability.LevelWarning, Next: rec}

	ctx := context.Background()
	observability.Emit(ctx, filter, "a", observability.LevelInfo, "x", nil)
	observability.Emit(ctx, filter, "b", observability.LevelWarning, "x", nil)
	observability.Emit(ctx, filter, "c", observability.LevelError, "x", nil)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, observability.EventType("b"), events[0].Type)
	assert.Equal(t, observability.EventType("c"), events[1].Type)
}

func TestRecorder_OfTypeAndReset(t *testing.T) {
	rec := observability.NewRecorder()
	ctx := context.Background()

	observability.Emit(ctx, rec, "a", observability.LevelInfo, "x", nil)
	observability.Emit(ctx, rec, "b", observability.LevelInfo, "x", nil)
	observability.Emit(ctx, rec, "a", observability.LevelInfo, "y", nil)

	assert.Len(t, rec.OfType("a"), 2)
	assert.Len(t, rec.OfType("b"), 1)

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestEmit_NilObserver(t *testing.T) {
	assert.NotPanics(t, func() {
		observability.Emit(context.Background(), nil, "a", observability.LevelInfo, "x", nil)
	})
}

func TestTraceObserver(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	ctx, span := provider.Tracer("test").Start(context.Background(), "send")
	obs := observability.NewTraceObserver()

	observability.Emit(ctx, obs, "client.send", observability.LevelInfo, "popup", map[string]any{
		"path": "background#wave",
		"hops": 2,
	})
	observability.Emit(ctx, obs, "client.route_failed", observability.LevelError, "popup", nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	events := ended[0].Events()
	require.Len(t, events, 2)
	assert.Equal(t, "client.send", events[0].Name)
	assert.Equal(t, "client.route_failed", events[1].Name)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestTraceObserver_NoSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		observability.NewTraceObserver().OnEvent(context.Background(), observability.Event{Type: "x"})
	})
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"noop", "slog", "otel"} {
		obs, err := observability.GetObserver(name)
		require.NoError(t, err, name)
		assert.NotNil(t, obs)
	}

	_, err := observability.GetObserver("missing")
	assert.Error(t, err)

	rec := observability.NewRecorder()
	observability.RegisterObserver("recorder-test", rec)
	obs, err := observability.Resolve("noop", "recorder-test")
	require.NoError(t, err)

	observability.Emit(context.Background(), obs, "x", observability.LevelInfo, "s", nil)
	assert.Len(t, rec.Events(), 1)

	obs, err = observability.Resolve()
	require.NoError(t, err)
	assert.IsType(t, observability.NoOpObserver{}, obs)

	assert.Contains(t, observability.Names(), "recorder-test")
}

func TestRegistry_Isolated(t *testing.T) {
	reg := observability.NewRegistry()
	rec := observability.NewRecorder()
	reg.Register("local", rec)

	assert.Equal(t, []string{"local", "noop", "otel", "slog"}, reg.Names())
	assert.NotContains(t, observability.Names(), "local")

	obs, err := reg.Resolve("local")
	require.NoError(t, err)
	assert.Same(t, rec, obs)

	_, err = reg.Resolve("local", "missing")
	assert.ErrorContains(t, err, "unknown observer: missing")
}

func TestSlogObserver_SortsAttributes(t *testing.T) {
	var buf bytes.Buffer
	obs := observability.NewSlogObserver(slog.New(slog.NewTextHandler(&buf, nil)))

	obs.OnEvent(context.Background(), observability.Event{
		Type:   "bus.delivered",
		Level:  observability.LevelInfo,
		Source: "background",
		Data:   map[string]any{"path": "1#liveness", "client_id": "popup-1", "message": "ping"},
	})

	assert.Regexp(t, `source=background client_id=popup-1 message=ping path=1#liveness`, buf.String())
}
