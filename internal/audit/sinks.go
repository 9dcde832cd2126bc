package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// ChannelSink buffers events in a channel. Emit gives up when ctx ends.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink returns a sink whose events are read from Events.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event { return s.events }

// JSONWriterSink writes newline-delimited JSON. Write errors are dropped.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// SlogSink logs failed events at WARN and the rest at INFO.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink over logger; nil uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With(slog.String("component", "audit"))}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "audit event", eventAttrs(event)...)
}

func eventAttrs(e Event) []slog.Attr {
	attrs := make([]slog.Attr, 0, 8+len(e.Metadata))
	attrs = append(attrs,
		slog.String("event_type", e.EventType),
		slog.Bool("success", e.Success),
		slog.Time("at", e.Timestamp),
	)
	optional := [...]struct{ key, val string }{
		{"user_id", e.UserID},
		{"session_id", e.SessionID},
		{"ip", e.IP},
		{"user_agent", e.UserAgent},
		{"error", e.Error},
	}
	for _, kv := range optional {
		if kv.val != "" {
			attrs = append(attrs, slog.String(kv.key, kv.val))
		}
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}
	return attrs
}
