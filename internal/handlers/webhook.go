package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
)

// maxWebhookBody matches the provider's documented payload ceiling.
const maxWebhookBody = 64 << 10

const signatureHeader = "Stripe-Signature"

// PaymentWebhook hands the raw body to reconciliation. Anything the service
// handled or classified as unprocessable gets a 2xx so the provider stops
// retrying; only transient failures get a 5xx.
func PaymentWebhook(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /webhooks/payments"
		defer handlePanic(c, route)

		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid body")
			return
		}
		if len(payload) > maxWebhookBody {
			respondWithError(c, http.StatusRequestEntityTooLarge, route, "payload too large")
			return
		}

		ack, err := svc.Reconcile(c.Request.Context(), payload, c.GetHeader(signatureHeader))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, ack)
		case errors.Is(err, apperrors.ErrSignatureInvalid):
			respondWithAppError(c, route, err)
		case apperrors.Retryable(err):
			zap.L().Warn("webhook will be retried by provider", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "retry later", "code": "RETRY"})
		default:
			respondWithAppError(c, route, err)
		}
	}
}
