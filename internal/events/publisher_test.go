package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"storefront/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherWritesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, log: zap.NewNop()}
	order := models.Order{ID: primitive.NewObjectID(), Status: models.StatusProcessing}

	p.Publish(context.Background(), "order.paid", order)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, order.ID.Hex(), string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "order.paid", string(msg.Headers[0].Value))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "order.paid", env.Type)
	assert.Equal(t, order.ID.Hex(), env.OrderID)
	assert.Equal(t, models.StatusProcessing, env.Order.Status)
	assert.NotEmpty(t, env.ID)
}

func TestKafkaPublisherSwallowsErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, log: zap.NewNop()}

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), "order.committed", models.Order{ID: primitive.NewObjectID()})
	})
	assert.Len(t, w.msgs, 1)
}

func TestPublishSurvivesCancelledRequest(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, log: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.Publish(ctx, "order.committed", models.Order{ID: primitive.NewObjectID()})
	assert.Len(t, w.msgs, 1)
}
