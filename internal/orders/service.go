package orders

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
	"storefront/internal/models"
)

// Domain event types published after a transaction commits.
const (
	EventOrderCommitted     = "order.committed"
	EventOrderPaid          = "order.paid"
	EventOrderStatusChanged = "order.status_changed"
)

// Notifier is the fire-and-forget status notification sender.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, recipient string, order models.Order, from models.OrderStatus)
}

// EventPublisher receives committed domain events. Failures stay inside the
// publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, order models.Order)
}

type Service struct {
	store    Store
	pricing  Pricing
	notifier Notifier
	events   EventPublisher
	verifier PaymentVerifier
	gateway  PaymentGateway
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithEvents(p EventPublisher) Option { return func(s *Service) { s.events = p } }
func WithVerifier(v PaymentVerifier) Option { return func(s *Service) { s.verifier = v } }
func WithGateway(g PaymentGateway) Option { return func(s *Service) { s.gateway = g } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(logger *zap.Logger) Option { return func(s *Service) { s.log = logger } }

func NewService(store Store, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		store:    store,
		pricing:  pricing,
		notifier: nopNotifier{},
		events:   nopPublisher{},
		now:      time.Now,
		log:      zap.L().Named("orders"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrder returns an order visible to the actor: its owner, an admin, or the
// assigned delivery agent.
func (s *Service) GetOrder(ctx context.Context, actor models.Actor, orderID string) (models.Order, error) {
	id, err := parseObjectID("orderId", orderID)
	if err != nil {
		return models.Order{}, err
	}
	order, err := s.store.FindOrder(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.Order{}, apperrors.NotFound("order", orderID)
	}
	if err != nil {
		return models.Order{}, err
	}
	if !canView(actor, order) {
		return models.Order{}, apperrors.Forbidden("you cannot view this order")
	}
	return order, nil
}

func (s *Service) ListMine(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	return s.store.ListOrdersByUser(ctx, actor.ID)
}

func (s *Service) ListAssigned(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	if !actor.IsDelivery() {
		return nil, apperrors.Forbidden("only delivery agents have assigned orders")
	}
	return s.store.ListOrdersByAgent(ctx, actor.ID)
}

func canView(actor models.Actor, order models.Order) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.IsDelivery():
		return order.AssignedTo(actor.ID)
	default:
		return order.UserID == actor.ID
	}
}

// notifyStatusChange is called after commit; it never fails the caller.
func (s *Service) notifyStatusChange(ctx context.Context, order models.Order, from models.OrderStatus) {
	s.events.Publish(ctx, EventOrderStatusChanged, order)

	owner, err := s.store.Customer(ctx, order.UserID)
	if err != nil {
		s.log.Warn("status notification skipped, owner lookup failed",
			zap.String("orderId", order.ID.Hex()),
			zap.Error(err),
		)
		return
	}
	s.notifier.OrderStatusChanged(ctx, owner.Email, order, from)
}

func parseObjectID(field, value string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(value)
	if err != nil {
		return primitive.NilObjectID, apperrors.Validation("invalid " + field).With("field", field)
	}
	return id, nil
}

type nopNotifier struct{}

func (nopNotifier) OrderStatusChanged(context.Context, string, models.Order, models.OrderStatus) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, models.Order) {}
