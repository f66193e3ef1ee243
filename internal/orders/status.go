package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
	"storefront/internal/metrics"
	"storefront/internal/models"
)

// staleBatch bounds how many orders one sweep cancels.
const staleBatch = 100

var agentTargets = map[models.OrderStatus]bool{
	models.StatusOutForDelivery: true,
	models.StatusDelivered:      true,
	models.StatusCancelled:      true,
}

type transition struct {
	order models.Order
	from  models.OrderStatus
}

func (t transition) changed() bool {
	return t.from != "" && t.from != t.order.Status
}

// UpdateStatus moves an order to target on behalf of actor. Setting the
// current status again is accepted and changes nothing.
func (s *Service) UpdateStatus(ctx context.Context, actor models.Actor, orderID string, target models.OrderStatus) (models.Order, error) {
	if !target.Valid() {
		return models.Order{}, apperrors.Validation(fmt.Sprintf("unknown order status %q", target)).With("field", "status")
	}
	id, err := parseObjectID("orderId", orderID)
	if err != nil {
		return models.Order{}, err
	}

	var result transition
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.Order(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("order", orderID)
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}

		if err := authorizeTransition(actor, order, target); err != nil {
			return err
		}
		if order.Status == target {
			result = transition{order: order}
			return nil
		}

		from := order.Status
		if err := s.applyStatus(ctx, tx, &order, target); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		result = transition{order: order, from: from}
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}

	if result.changed() {
		metrics.StatusTransitions.WithLabelValues(string(target), actor.Role).Inc()
		s.log.Info("order status changed",
			zap.String("orderId", orderID),
			zap.String("from", string(result.from)),
			zap.String("to", string(target)),
			zap.String("role", actor.Role),
			zap.String("actorId", actor.ID.Hex()),
		)
		s.notifyStatusChange(ctx, result.order, result.from)
	}
	return result.order, nil
}

// authorizeTransition decides whether actor may move order to target at all.
// Admins may set any status; the other roles only move live orders forward
// or cancel them.
func authorizeTransition(actor models.Actor, order models.Order, target models.OrderStatus) error {
	switch {
	case actor.IsAdmin():
		return nil
	case actor.IsDelivery():
		if !order.AssignedTo(actor.ID) {
			return apperrors.Forbidden("order is not assigned to you")
		}
		if !agentTargets[target] {
			return apperrors.Forbidden(fmt.Sprintf("delivery agents cannot set status %q", target))
		}
	case actor.IsSystem():
		if target != models.StatusCancelled {
			return apperrors.Forbidden("system actor may only cancel orders")
		}
		// A started card payment may still be captured, so the sweep leaves it.
		if (order.IsPaid || order.PaymentIntentID != "") && order.Status != target {
			return apperrors.InvalidTransition(string(order.Status), string(target))
		}
	default:
		return apperrors.Forbidden("you cannot change the order status")
	}

	if order.Status.Terminal() && order.Status != target {
		return apperrors.InvalidTransition(string(order.Status), string(target))
	}
	return nil
}

// applyStatus mutates order for the move to target and keeps reserved stock
// in step: cancelling returns it, leaving Cancelled takes it again.
func (s *Service) applyStatus(ctx context.Context, tx Tx, order *models.Order, target models.OrderStatus) error {
	switch {
	case target == models.StatusCancelled && order.StockReserved:
		if err := releaseLines(ctx, tx, order.Lines); err != nil {
			return err
		}
		order.StockReserved = false
	case order.Status == models.StatusCancelled && !order.StockReserved:
		if err := reserveLines(ctx, tx, order.Lines); err != nil {
			return err
		}
		order.StockReserved = true
	}

	now := s.now().UTC()
	switch {
	case target == models.StatusDelivered && order.DeliveredAt == nil:
		order.DeliveredAt = &now
	case target != models.StatusDelivered:
		order.DeliveredAt = nil
	}
	order.Status = target
	order.UpdatedAt = now
	return nil
}

// AssignAgent sets the delivery agent of an order. An order is assigned once;
// repeating the same assignment is a no-op.
func (s *Service) AssignAgent(ctx context.Context, actor models.Actor, orderID, agentID string) (models.Order, error) {
	if !actor.IsAdmin() {
		return models.Order{}, apperrors.Forbidden("only admins can assign delivery agents")
	}
	id, err := parseObjectID("orderId", orderID)
	if err != nil {
		return models.Order{}, err
	}
	agent, err := parseObjectID("agentId", agentID)
	if err != nil {
		return models.Order{}, err
	}

	customer, err := s.store.Customer(ctx, agent)
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.Order{}, apperrors.NotFound("delivery agent", agentID)
	}
	if err != nil {
		return models.Order{}, err
	}
	if customer.Role != models.RoleDelivery || !customer.IsActive {
		return models.Order{}, apperrors.Validation("agent is not an active delivery account").With("field", "agentId")
	}

	var order models.Order
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		order, err = tx.Order(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("order", orderID)
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}

		switch {
		case order.AssignedTo(agent):
			return nil
		case order.DeliveryAgentID != nil:
			return apperrors.InvalidState("order already has a delivery agent")
		case order.Status.Terminal():
			return apperrors.InvalidState(fmt.Sprintf("order is %s", order.Status))
		}

		order.DeliveryAgentID = &agent
		order.UpdatedAt = s.now().UTC()
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return fmt.Errorf("assign agent: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}

	s.log.Info("delivery agent assigned",
		zap.String("orderId", orderID),
		zap.String("agentId", agentID),
	)
	return order, nil
}

// CancelStale cancels unpaid card orders that stayed Pending longer than
// olderThan without a payment intent, returning their stock. It reports how
// many were cancelled.
func (s *Service) CancelStale(ctx context.Context, olderThan time.Duration) (int, error) {
	before := s.now().UTC().Add(-olderThan)
	stale, err := s.store.ListStalePending(ctx, models.PaymentMethodCard, before, staleBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	system := models.Actor{ID: primitive.NilObjectID, Role: models.RoleSystem}
	cancelled := 0
	for _, order := range stale {
		if ctx.Err() != nil {
			return cancelled, ctx.Err()
		}
		updated, err := s.UpdateStatus(ctx, system, order.ID.Hex(), models.StatusCancelled)
		switch {
		case errors.Is(err, apperrors.ErrInvalidTransition), errors.Is(err, apperrors.ErrNotFound):
			// paid or moved on since it was listed
			continue
		case err != nil:
			s.log.Warn("stale order cancel failed", zap.String("orderId", order.ID.Hex()), zap.Error(err))
			continue
		}
		if updated.Status == models.StatusCancelled {
			cancelled++
		}
	}
	return cancelled, nil
}
