package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
	"storefront/internal/metrics"
	"storefront/internal/models"
)

// OutcomeOrderNotFound acknowledges an event whose order id cannot be
// resolved. It is not recorded, so a later fix of the order data can still
// be replayed from the provider dashboard.
const OutcomeOrderNotFound = "order_not_found"

// Ack tells the webhook caller the event is settled and must not be retried.
type Ack struct {
	Outcome string `json:"outcome"`
	OrderID string `json:"orderId,omitempty"`
}

// Reconcile verifies a provider callback and applies it to its order. Only
// SignatureInvalid and transient or storage errors are returned; everything
// else is acknowledged.
func (s *Service) Reconcile(ctx context.Context, payload []byte, signature string) (Ack, error) {
	if s.verifier == nil {
		return Ack{}, apperrors.Fatal(errors.New("payment verifier is not configured"))
	}
	evt, err := s.verifier.Verify(payload, signature)
	if err != nil {
		metrics.Reconciliations.WithLabelValues("signature_invalid").Inc()
		s.log.Warn("payment webhook rejected", zap.Error(err))
		return Ack{}, apperrors.SignatureInvalid(err)
	}

	log := s.log.With(
		zap.String("eventId", evt.ID),
		zap.String("type", evt.Type),
		zap.String("orderId", evt.OrderID),
	)

	var (
		ack  Ack
		paid transition
	)
	switch evt.Type {
	case EventPaymentSucceeded:
		err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			ack, paid, err = s.applyPayment(ctx, tx, evt)
			return err
		})
	case EventPaymentFailed:
		err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			ack, err = s.recordOnly(ctx, tx, evt, models.EventOutcomeFailed, evt.FailureMessage)
			return err
		})
	default:
		err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			ack, err = s.recordOnly(ctx, tx, evt, models.EventOutcomeIgnored, "")
			return err
		})
	}
	if err != nil {
		log.Error("payment reconciliation failed", zap.Error(err))
		return Ack{}, err
	}

	metrics.Reconciliations.WithLabelValues(ack.Outcome).Inc()
	switch ack.Outcome {
	case models.EventOutcomeOrderCancelled, models.EventOutcomeAmountMismatch:
		log.Error("payment event needs manual review",
			zap.String("outcome", ack.Outcome),
			zap.String("intentId", evt.IntentID),
			zap.Int64("amount", evt.AmountMinor),
		)
	default:
		log.Info("payment event reconciled", zap.String("outcome", ack.Outcome))
	}

	if ack.Outcome == models.EventOutcomePaid {
		s.events.Publish(ctx, EventOrderPaid, paid.order)
		if paid.changed() {
			s.notifyStatusChange(ctx, paid.order, paid.from)
		}
	}
	return ack, nil
}

func (s *Service) applyPayment(ctx context.Context, tx Tx, evt ProviderEvent) (Ack, transition, error) {
	seen, err := tx.PaymentEvent(ctx, evt.ID)
	if err != nil {
		return Ack{}, transition{}, fmt.Errorf("load payment event: %w", err)
	}
	if seen != nil {
		return Ack{Outcome: models.EventOutcomeDuplicate, OrderID: seen.OrderID}, transition{}, nil
	}

	order, err := lookupEventOrder(ctx, tx, evt.OrderID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return Ack{Outcome: OutcomeOrderNotFound, OrderID: evt.OrderID}, transition{}, nil
	}
	if err != nil {
		return Ack{}, transition{}, err
	}

	record := s.eventRecord(evt)
	if order.IsPaid {
		record.Outcome = models.EventOutcomeDuplicate
		record.Message = "order already paid"
		if err := tx.RecordPaymentEvent(ctx, record); err != nil {
			return Ack{}, transition{}, fmt.Errorf("record payment event: %w", err)
		}
		return Ack{Outcome: record.Outcome, OrderID: evt.OrderID}, transition{}, nil
	}

	if order.Status == models.StatusCancelled || !order.StockReserved {
		record.Outcome = models.EventOutcomeOrderCancelled
		record.Message = fmt.Sprintf("order is %s without reserved stock, refund required", order.Status)
		if err := tx.RecordPaymentEvent(ctx, record); err != nil {
			return Ack{}, transition{}, fmt.Errorf("record payment event: %w", err)
		}
		return Ack{Outcome: record.Outcome, OrderID: evt.OrderID}, transition{}, nil
	}

	if evt.AmountMinor != MinorUnits(order.TotalPrice) || !strings.EqualFold(evt.Currency, s.pricing.Currency) {
		record.Outcome = models.EventOutcomeAmountMismatch
		record.Message = fmt.Sprintf("expected %d %s", MinorUnits(order.TotalPrice), s.pricing.Currency)
		if err := tx.RecordPaymentEvent(ctx, record); err != nil {
			return Ack{}, transition{}, fmt.Errorf("record payment event: %w", err)
		}
		return Ack{Outcome: record.Outcome, OrderID: evt.OrderID}, transition{}, nil
	}

	now := s.now().UTC()
	from := order.Status
	order.IsPaid = true
	order.PaidAt = &now
	order.PaymentResult = &models.PaymentResult{
		Provider:     evt.Provider,
		IntentID:     evt.IntentID,
		EventID:      evt.ID,
		Status:       evt.Status,
		AmountMinor:  evt.AmountMinor,
		Currency:     strings.ToLower(evt.Currency),
		ReceiptEmail: evt.ReceiptEmail,
	}
	if order.Status == models.StatusPending {
		order.Status = models.StatusProcessing
	}
	order.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, &order); err != nil {
		return Ack{}, transition{}, fmt.Errorf("mark order paid: %w", err)
	}

	record.Outcome = models.EventOutcomePaid
	if err := tx.RecordPaymentEvent(ctx, record); err != nil {
		return Ack{}, transition{}, fmt.Errorf("record payment event: %w", err)
	}
	return Ack{Outcome: record.Outcome, OrderID: evt.OrderID}, transition{order: order, from: from}, nil
}

// recordOnly stores the event for audit without touching its order. A failed
// payment leaves the order payable.
func (s *Service) recordOnly(ctx context.Context, tx Tx, evt ProviderEvent, outcome, message string) (Ack, error) {
	seen, err := tx.PaymentEvent(ctx, evt.ID)
	if err != nil {
		return Ack{}, fmt.Errorf("load payment event: %w", err)
	}
	if seen != nil {
		return Ack{Outcome: models.EventOutcomeDuplicate, OrderID: seen.OrderID}, nil
	}

	record := s.eventRecord(evt)
	record.Outcome = outcome
	record.Message = message
	if err := tx.RecordPaymentEvent(ctx, record); err != nil {
		return Ack{}, fmt.Errorf("record payment event: %w", err)
	}
	return Ack{Outcome: record.Outcome, OrderID: evt.OrderID}, nil
}

func (s *Service) eventRecord(evt ProviderEvent) models.PaymentEvent {
	return models.PaymentEvent{
		EventID:     evt.ID,
		Type:        evt.Type,
		IntentID:    evt.IntentID,
		OrderID:     evt.OrderID,
		AmountMinor: evt.AmountMinor,
		Currency:    strings.ToLower(evt.Currency),
		ReceivedAt:  s.now().UTC(),
	}
}

func lookupEventOrder(ctx context.Context, tx Tx, orderID string) (models.Order, error) {
	id, err := primitive.ObjectIDFromHex(orderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("order id %q: %w", orderID, apperrors.ErrNotFound)
	}
	return tx.Order(ctx, id)
}
