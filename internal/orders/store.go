package orders

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

// ErrStaleWrite is returned by Tx.UpdateOrder when the order's version moved
// underneath the caller. Transaction runners retry it like a write conflict.
var ErrStaleWrite = errors.New("order was modified concurrently")

// Tx is the database view inside one transaction attempt. Lookups of missing
// records return an error wrapping apperrors.ErrNotFound.
type Tx interface {
	Product(ctx context.Context, id primitive.ObjectID) (models.Product, error)
	// ReserveStock decrements stock only when at least qty units remain.
	// It reports false when the guard did not match.
	ReserveStock(ctx context.Context, id primitive.ObjectID, qty int) (bool, error)
	ReleaseStock(ctx context.Context, id primitive.ObjectID, qty int) error

	InsertOrder(ctx context.Context, order *models.Order) error
	Order(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	// UpdateOrder writes the order if its stored version still equals
	// order.Version, then bumps order.Version.
	UpdateOrder(ctx context.Context, order *models.Order) error

	// PaymentEvent returns nil when the event id has never been recorded.
	PaymentEvent(ctx context.Context, eventID string) (*models.PaymentEvent, error)
	RecordPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// Store runs transactions and serves the read paths of the order ledger.
type Store interface {
	// WithTx runs fn in a transaction, retrying the whole function on
	// transient conflicts a bounded number of times. fn must not keep state
	// across attempts.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindOrder(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	ListOrdersByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Order, error)
	ListOrdersByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.Order, error)
	ListStalePending(ctx context.Context, paymentMethod string, before time.Time, limit int) ([]models.Order, error)
	Customer(ctx context.Context, id primitive.ObjectID) (models.Customer, error)
}
