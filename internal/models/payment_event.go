package models

import "time"

// Outcomes recorded against a provider event.
const (
	EventOutcomePaid           = "paid"
	EventOutcomeDuplicate      = "duplicate"
	EventOutcomeFailed         = "payment_failed"
	EventOutcomeAmountMismatch = "amount_mismatch"
	EventOutcomeIgnored        = "ignored"
	// EventOutcomeOrderCancelled marks money captured for an order whose
	// stock was already released. The order stays unpaid pending a refund.
	EventOutcomeOrderCancelled = "order_cancelled"
)

// PaymentEvent is the durable idempotency record of a provider callback.
// eventId carries a unique index.
type PaymentEvent struct {
	EventID     string    `bson:"eventId" json:"eventId"`
	Type        string    `bson:"type" json:"type"`
	IntentID    string    `bson:"intentId,omitempty" json:"intentId,omitempty"`
	OrderID     string    `bson:"orderId,omitempty" json:"orderId,omitempty"`
	Outcome     string    `bson:"outcome" json:"outcome"`
	AmountMinor int64     `bson:"amountMinor" json:"amountMinor"`
	Currency    string    `bson:"currency,omitempty" json:"currency,omitempty"`
	Message     string    `bson:"message,omitempty" json:"message,omitempty"`
	ReceivedAt  time.Time `bson:"receivedAt" json:"receivedAt"`
}
