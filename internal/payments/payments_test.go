package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"storefront/internal/apperrors"
	"storefront/internal/orders"
)

const whsec = "whsec_test_secret"

func signedEvent(t *testing.T, secret string, event map[string]any) *webhook.SignedPayload {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})
}

func intentEvent(eventType string, intent map[string]any) map[string]any {
	return map[string]any{
		"id":          "evt_123",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": intent},
	}
}

func TestVerifySucceededIntent(t *testing.T) {
	v, err := NewWebhookVerifier(whsec)
	require.NoError(t, err)

	signed := signedEvent(t, whsec, intentEvent(orders.EventPaymentSucceeded, map[string]any{
		"id":            "pi_1",
		"object":        "payment_intent",
		"amount":        2150,
		"currency":      "usd",
		"status":        "succeeded",
		"receipt_email": "buyer@example.com",
		"metadata":      map[string]string{MetadataOrderID: "65f0c0ffee"},
	}))

	evt, err := v.Verify(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, orders.ProviderEvent{
		Provider:     ProviderStripe,
		ID:           "evt_123",
		Type:         orders.EventPaymentSucceeded,
		IntentID:     "pi_1",
		OrderID:      "65f0c0ffee",
		AmountMinor:  2150,
		Currency:     "usd",
		Status:       "succeeded",
		ReceiptEmail: "buyer@example.com",
	}, evt)
}

func TestVerifyFailedIntentCarriesMessage(t *testing.T) {
	v, err := NewWebhookVerifier(whsec)
	require.NoError(t, err)

	signed := signedEvent(t, whsec, intentEvent(orders.EventPaymentFailed, map[string]any{
		"id":                 "pi_2",
		"object":             "payment_intent",
		"amount":             999,
		"currency":           "usd",
		"status":             "requires_payment_method",
		"metadata":           map[string]string{MetadataOrderID: "abc"},
		"last_payment_error": map[string]any{"message": "Your card was declined."},
	}))

	evt, err := v.Verify(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "Your card was declined.", evt.FailureMessage)
	assert.Equal(t, "abc", evt.OrderID)
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	v, err := NewWebhookVerifier(whsec)
	require.NoError(t, err)

	signed := signedEvent(t, "whsec_other", intentEvent(orders.EventPaymentSucceeded, map[string]any{"id": "pi_1"}))
	_, err = v.Verify(signed.Payload, signed.Header)
	assert.Error(t, err)

	_, err = v.Verify(signed.Payload, "")
	assert.Error(t, err)
}

func TestVerifyPassesThroughOtherEvents(t *testing.T) {
	v, err := NewWebhookVerifier(whsec)
	require.NoError(t, err)

	signed := signedEvent(t, whsec, map[string]any{
		"id":     "evt_c",
		"object": "event",
		"type":   "customer.created",
		"data":   map[string]any{"object": map[string]any{"id": "cus_1"}},
	})
	evt, err := v.Verify(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "customer.created", evt.Type)
	assert.Empty(t, evt.OrderID)
}

type fakeIntents struct {
	params []*stripe.PaymentIntentParams
	err    error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{
		ID:           "pi_new",
		ClientSecret: "pi_new_secret",
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
	}, nil
}

func TestCreateIntent(t *testing.T) {
	api := &fakeIntents{}
	g := newGateway(api)

	intent, err := g.CreateIntent(context.Background(), orders.IntentRequest{
		OrderID:     "o1",
		AmountMinor: 2150,
		Currency:    "USD",
		Email:       "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, orders.Intent{ID: "pi_new", ClientSecret: "pi_new_secret", AmountMinor: 2150, Currency: "usd"}, intent)

	require.Len(t, api.params, 1)
	p := api.params[0]
	assert.Equal(t, "o1", p.Metadata[MetadataOrderID])
	assert.Equal(t, "order-o1-2150", *p.IdempotencyKey)
	assert.Equal(t, "buyer@example.com", *p.ReceiptEmail)
}

func TestCreateIntentTripsBreakerOnOutage(t *testing.T) {
	api := &fakeIntents{err: &stripe.Error{HTTPStatusCode: http.StatusBadGateway, Msg: "upstream"}}
	g := newGateway(api)

	for i := 0; i < 5; i++ {
		_, err := g.CreateIntent(context.Background(), orders.IntentRequest{OrderID: "o1", AmountMinor: 100, Currency: "usd"})
		require.Error(t, err)
	}
	_, err := g.CreateIntent(context.Background(), orders.IntentRequest{OrderID: "o1", AmountMinor: 100, Currency: "usd"})
	assert.ErrorIs(t, err, apperrors.ErrFatal)
	assert.Len(t, api.params, 5)
}

func TestCreateIntentCardErrorsDoNotTrip(t *testing.T) {
	api := &fakeIntents{err: &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "amount too small"}}
	g := newGateway(api)

	for i := 0; i < 8; i++ {
		_, err := g.CreateIntent(context.Background(), orders.IntentRequest{OrderID: "o1", AmountMinor: 1, Currency: "usd"})
		var se *stripe.Error
		require.True(t, errors.As(err, &se))
	}
	assert.Len(t, api.params, 8)
}
