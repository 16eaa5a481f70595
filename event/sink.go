package event

import "log/slog"

// Sink receives metrics. Emit must not block the flow's execution context;
// implementations that do I/O should buffer or ship asynchronously.
type Sink interface {
	Emit(m Metric)
}

// SlogSink writes metrics to the process logger at debug level.
// It is the default sink when the host does not supply one.
type SlogSink struct {
	Logger *slog.Logger
}

// Emit logs the metric fields as structured attributes.
func (s SlogSink) Emit(m Metric) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("metric",
		"category", string(m.Category),
		"type", string(m.Type),
		"action", m.Action,
		"context", m.Context,
		"source", m.Source,
		"errorCode", m.ErrorCode,
	)
}

// NopSink discards all metrics.
type NopSink struct{}

// Emit discards the metric.
func (NopSink) Emit(Metric) {}
