package observability

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// SlogObserver turns each event into one log record whose message is the
// event type. Data keys become attributes in sorted order after "source".
type SlogObserver struct {
	logger *slog.Logger
}

func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	attrs := []slog.Attr{slog.String("source", event.Source)}
	for _, key := range slices.Sorted(maps.Keys(event.Data)) {
		attrs = append(attrs, slog.Any(key, event.Data[key]))
	}
	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}
