package notify

import (
	"context"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"storefront/internal/metrics"
	"storefront/internal/models"
)

const sendTimeout = 30 * time.Second

// Dispatcher sends notifications on a bounded worker pool. It never blocks
// the caller: when every worker is busy the message is dropped and counted.
type Dispatcher struct {
	pool   *ants.Pool
	sender Sender
	log    *zap.Logger
}

func NewDispatcher(sender Sender, workers int) (*Dispatcher, error) {
	if workers < 1 {
		workers = 1
	}
	log := zap.L().Named("notify")
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("notification worker panic", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{pool: pool, sender: sender, log: log}, nil
}

// OrderStatusChanged queues the status email for recipient.
func (d *Dispatcher) OrderStatusChanged(_ context.Context, recipient string, order models.Order, from models.OrderStatus) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return
	}
	subject, body := StatusMessage(order, from)

	// The request context ends with the request; the send must outlive it.
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := d.sender.Send(ctx, recipient, subject, body); err != nil {
			metrics.NotificationsDropped.Inc()
			d.log.Warn("notification failed",
				zap.String("orderId", order.ID.Hex()),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		metrics.NotificationsDropped.Inc()
		d.log.Warn("notification dropped",
			zap.String("orderId", order.ID.Hex()),
			zap.Error(err),
		)
	}
}

// Close waits up to timeout for queued sends and stops the pool.
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}
