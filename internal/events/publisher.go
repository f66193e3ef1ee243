package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"storefront/internal/models"
)

// Envelope is the wire form of a domain event. The order snapshot is taken
// after the transaction committed.
type Envelope struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurredAt"`
	OrderID    string       `json:"orderId"`
	Order      models.Order `json:"order"`
}

func NewEnvelope(eventType string, order models.Order, now time.Time) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: now.UTC(),
		OrderID:    order.ID.Hex(),
		Order:      order,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events keyed by order id, so a consumer sees
// the events of one order in commit order.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, log: zap.L().Named("events")}
}

// Publish never fails the caller; delivery problems are logged.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, order models.Order) {
	env := NewEnvelope(eventType, order, time.Now())
	if err := p.publish(ctx, env); err != nil {
		p.log.Error("publish event failed",
			zap.String("type", eventType),
			zap.String("orderId", env.OrderID),
			zap.Error(err),
		)
		return
	}
	p.log.Debug("event published", zap.String("type", eventType), zap.String("orderId", env.OrderID))
}

func (p *KafkaPublisher) publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Detach from the request so a client disconnect does not drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in when no brokers are configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(_ context.Context, eventType string, order models.Order) {
	p.log.Debug("domain event",
		zap.String("type", eventType),
		zap.String("orderId", order.ID.Hex()),
		zap.String("status", string(order.Status)),
	)
}

func (p *LogPublisher) Close() error { return nil }
