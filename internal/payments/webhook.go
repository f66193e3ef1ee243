package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"storefront/internal/orders"
)

// MetadataOrderID is the payment intent metadata key carrying our order id.
const MetadataOrderID = "orderId"

const signatureTolerance = 5 * time.Minute

// WebhookVerifier checks Stripe-Signature headers against the endpoint
// secret and extracts the payment intent carried by the event.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

func (v *WebhookVerifier) Verify(payload []byte, signature string) (orders.ProviderEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return orders.ProviderEvent{}, err
	}

	out := orders.ProviderEvent{
		Provider: ProviderStripe,
		ID:       event.ID,
		Type:     string(event.Type),
	}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return orders.ProviderEvent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	out.IntentID = pi.ID
	out.OrderID = pi.Metadata[MetadataOrderID]
	out.AmountMinor = pi.Amount
	out.Currency = string(pi.Currency)
	out.Status = string(pi.Status)
	out.ReceiptEmail = pi.ReceiptEmail
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}
