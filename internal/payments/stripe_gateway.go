package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
	"storefront/internal/orders"
)

const ProviderStripe = "stripe"

type paymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Gateway creates Stripe payment intents behind a circuit breaker.
type Gateway struct {
	intents paymentIntentAPI
	breaker *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
	log     *zap.Logger
}

func NewStripeGateway(apiKey string) (*Gateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return newGateway(sc.PaymentIntents), nil
}

func newGateway(intents paymentIntentAPI) *Gateway {
	log := zap.L().Named("payments")
	settings := gobreaker.Settings{
		Name:        "stripe-intents",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		// Requests Stripe rejected on their merits say nothing about its health.
		IsSuccessful: func(err error) bool {
			var se *stripe.Error
			if errors.As(err, &se) {
				return se.HTTPStatusCode < 500 && se.HTTPStatusCode != 429
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Gateway{
		intents: intents,
		breaker: gobreaker.NewCircuitBreaker[*stripe.PaymentIntent](settings),
		log:     log,
	}
}

// CreateIntent creates a payment intent for the whole order. The idempotency
// key is derived from the order and amount, so repeated calls return the
// same intent until the total changes.
func (g *Gateway) CreateIntent(ctx context.Context, req orders.IntentRequest) (orders.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("order-%s-%d", req.OrderID, req.AmountMinor))
	params.AddMetadata(MetadataOrderID, req.OrderID)
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}

	pi, err := g.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return g.intents.New(params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return orders.Intent{}, apperrors.Fatal(fmt.Errorf("stripe: %w", err))
		}
		return orders.Intent{}, apperrors.Fatal(fmt.Errorf("stripe: create payment intent: %w", err))
	}

	g.log.Debug("payment intent created",
		zap.String("intentId", pi.ID),
		zap.String("orderId", req.OrderID),
	)
	return orders.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}
