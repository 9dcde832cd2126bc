package authcore

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/audit"
)

// AuditEvent is one security-relevant outcome. Events never carry
// passwords, token strings, secrets or backup codes.
type AuditEvent = audit.Event

// AuditSink receives events from the engine's asynchronous dispatcher.
// Emit runs on the dispatcher goroutine, never on the request path.
type AuditSink = audit.Sink

// AuditStats counts delivered, dropped and failed audit events.
type AuditStats = audit.Stats

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes newline-delimited JSON.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink writes each event as a structured log record.
type SlogSink = audit.SlogSink

// NewChannelSink returns a sink whose events are read from Events.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink over logger. A nil logger uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
