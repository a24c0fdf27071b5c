// Package events mirrors orchestrator bus events onto a Kafka topic for
// external consumers. The mirror is optional and best-effort; Kafka being
// down never affects task dispatch.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/finchwork/finch/internal/bus"
)

// Mirror publishes every bus event as one JSON message keyed by event type.
type Mirror struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewMirror creates a mirror writing to the given brokers and topic.
func NewMirror(brokers, topic string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		},
		logger: logger,
	}
}

// Attach subscribes the mirror to the bus.
func (m *Mirror) Attach(b *bus.Bus) {
	b.Subscribe(m.publish)
}

func (m *Mirror) publish(e bus.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Type),
		Value: payload,
	})
	if err != nil {
		m.logger.Debug("event mirror write failed", "type", e.Type, "error", err)
	}
}

// Close flushes and closes the underlying writer.
func (m *Mirror) Close() error {
	return m.writer.Close()
}
