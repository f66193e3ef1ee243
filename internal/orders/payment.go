package orders

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
	"storefront/internal/models"
)

// Provider event types the reconciler acts on.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// ProviderEvent is a verified payment provider callback.
type ProviderEvent struct {
	Provider       string
	ID             string
	Type           string
	IntentID       string
	OrderID        string
	AmountMinor    int64
	Currency       string
	Status         string
	ReceiptEmail   string
	FailureMessage string
}

// PaymentVerifier authenticates a raw webhook body. Any error means the
// payload must not be trusted.
type PaymentVerifier interface {
	Verify(payload []byte, signature string) (ProviderEvent, error)
}

type IntentRequest struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	Email       string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	AmountMinor  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// StartPayment asks the provider for a payment intent covering the order
// total. The intent id is stored on the order so the stale sweep leaves it
// alone; payment itself is confirmed only by Reconcile.
func (s *Service) StartPayment(ctx context.Context, actor models.Actor, orderID string) (Intent, error) {
	if s.gateway == nil {
		return Intent{}, apperrors.Fatal(errors.New("payment gateway is not configured"))
	}
	id, err := parseObjectID("orderId", orderID)
	if err != nil {
		return Intent{}, err
	}
	order, err := s.store.FindOrder(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return Intent{}, apperrors.NotFound("order", orderID)
	}
	if err != nil {
		return Intent{}, err
	}

	switch {
	case order.UserID != actor.ID:
		return Intent{}, apperrors.Forbidden("only the order owner can pay for it")
	case order.PaymentMethod != models.PaymentMethodCard:
		return Intent{}, apperrors.InvalidState("order is not a card order")
	case order.IsPaid:
		return Intent{}, apperrors.InvalidState("order is already paid")
	case order.Status == models.StatusCancelled:
		return Intent{}, apperrors.InvalidState("order is cancelled")
	}

	intent, err := s.gateway.CreateIntent(ctx, IntentRequest{
		OrderID:     order.ID.Hex(),
		AmountMinor: MinorUnits(order.TotalPrice),
		Currency:    s.pricing.Currency,
		Email:       actor.Email,
	})
	if err != nil {
		s.log.Error("create payment intent failed",
			zap.String("orderId", order.ID.Hex()),
			zap.Error(err),
		)
		return Intent{}, err
	}

	if err := s.rememberIntent(ctx, order.ID, intent.ID); err != nil {
		return Intent{}, err
	}

	s.log.Info("payment intent created",
		zap.String("orderId", order.ID.Hex()),
		zap.String("intentId", intent.ID),
		zap.Int64("amount", intent.AmountMinor),
	)
	return intent, nil
}

func (s *Service) rememberIntent(ctx context.Context, orderID primitive.ObjectID, intentID string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.Order(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if order.PaymentIntentID == intentID {
			return nil
		}
		order.PaymentIntentID = intentID
		order.UpdatedAt = s.now().UTC()
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return fmt.Errorf("store payment intent: %w", err)
		}
		return nil
	})
}
