// Package kafka publishes order status changes to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
)

const headerEvent = "event"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ports.StatusNotifier on top of a kafka-go Writer.
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

var _ ports.StatusNotifier = (*Publisher)(nil)

// NewPublisher creates a publisher writing to topic. Messages are keyed by
// order id so every change of one order lands on the same partition.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// NotifyStatusChange writes change as JSON.
func (p *Publisher) NotifyStatusChange(ctx context.Context, change domain.StatusChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(change.OrderID),
		Value: body,
		Headers: []kafka.Header{
			{Key: headerEvent, Value: []byte("payment." + string(change.Status))},
		},
		Time: change.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write status change for order %s: %w", change.OrderID, err)
	}

	p.logger.Debug("published status change",
		zap.String("order_id", change.OrderID),
		zap.String("status", string(change.Status)),
	)
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
