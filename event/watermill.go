package event

import (
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// WatermillSink publishes metrics as JSON messages on a Watermill topic,
// letting the host route them to whatever broker it already runs.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillSink creates a sink publishing to the given topic.
func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic}
}

// Emit marshals and publishes the metric. Failures are logged and dropped:
// telemetry must never interfere with the flow itself.
func (s *WatermillSink) Emit(m Metric) {
	payload, err := json.Marshal(m)
	if err != nil {
		slog.Warn("event: marshal metric failed", "error", err)
		return
	}

	msg := message.NewMessage(m.ID, payload)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		slog.Warn("event: publish metric failed", "topic", s.topic, "error", err)
	}
}
