package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperrors"
	"storefront/internal/middleware"
	"storefront/internal/models"
	"storefront/internal/orders"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubService struct {
	commitReq   orders.CommitRequest
	commitErr   error
	statusActor models.Actor
	statusTo    models.OrderStatus
	statusErr   error
	reconcile   func(payload []byte, signature string) (orders.Ack, error)
	assigned    []models.Order
}

func (s *stubService) Commit(_ context.Context, req orders.CommitRequest) (models.Order, error) {
	s.commitReq = req
	if s.commitErr != nil {
		return models.Order{}, s.commitErr
	}
	return models.Order{ID: primitive.NewObjectID(), UserID: req.UserID, Status: models.StatusPending}, nil
}

func (s *stubService) GetOrder(_ context.Context, _ models.Actor, orderID string) (models.Order, error) {
	return models.Order{}, apperrors.NotFound("order", orderID)
}

func (s *stubService) ListMine(context.Context, models.Actor) ([]models.Order, error) {
	return nil, nil
}

func (s *stubService) ListAssigned(context.Context, models.Actor) ([]models.Order, error) {
	return s.assigned, nil
}

func (s *stubService) StartPayment(context.Context, models.Actor, string) (orders.Intent, error) {
	return orders.Intent{ID: "pi_1", ClientSecret: "secret", AmountMinor: 2150, Currency: "usd"}, nil
}

func (s *stubService) Reconcile(_ context.Context, payload []byte, signature string) (orders.Ack, error) {
	return s.reconcile(payload, signature)
}

func (s *stubService) UpdateStatus(_ context.Context, actor models.Actor, _ string, target models.OrderStatus) (models.Order, error) {
	s.statusActor, s.statusTo = actor, target
	if s.statusErr != nil {
		return models.Order{}, s.statusErr
	}
	return models.Order{Status: target}, nil
}

func (s *stubService) AssignAgent(context.Context, models.Actor, string, string) (models.Order, error) {
	return models.Order{}, apperrors.InvalidState("order already has an agent")
}

func withActor(actor models.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetActor(c, actor)
		c.Next()
	}
}

func serve(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateOrderPassesCartToService(t *testing.T) {
	svc := &stubService{}
	user := models.Actor{ID: primitive.NewObjectID(), Role: models.RoleUser}
	r := gin.New()
	r.POST("/orders", withActor(user), CreateOrder(svc))

	w := serve(r, http.MethodPost, "/orders", `{
		"orderItems": [{"productId": " 65f0c0ffee00000000000001 ", "price": "5.00", "quantity": 2}],
		"shippingAddress": {"address": "1 Main St", "city": "Springfield", "postalCode": "12345", "country": "US"},
		"paymentMethod": " Card "
	}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, user.ID, svc.commitReq.UserID)
	assert.Equal(t, "card", svc.commitReq.PaymentMethod)
	require.Len(t, svc.commitReq.Lines, 1)
	assert.Equal(t, "65f0c0ffee00000000000001", svc.commitReq.Lines[0].ProductID)
	assert.Equal(t, "5", svc.commitReq.Lines[0].ClaimedUnitPrice.String())
	assert.Equal(t, 2, svc.commitReq.Lines[0].Quantity)
}

func TestCreateOrderRejectsEmptyCart(t *testing.T) {
	r := gin.New()
	r.POST("/orders", withActor(models.Actor{ID: primitive.NewObjectID(), Role: models.RoleUser}), CreateOrder(&stubService{}))

	w := serve(r, http.MethodPost, "/orders", `{"orderItems": [], "shippingAddress": {}, "paymentMethod": "card"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, w)["code"])
}

func TestCreateOrderRequiresActor(t *testing.T) {
	r := gin.New()
	r.POST("/orders", CreateOrder(&stubService{}))

	w := serve(r, http.MethodPost, "/orders", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrderMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.PriceMismatch("p1", "Apple", "4.50"), http.StatusConflict, "PRICE_MISMATCH"},
		{apperrors.InsufficientStock("p1", "Apple", 1, 2), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{apperrors.Conflict(errors.New("write conflict")), http.StatusConflict, "CONFLICT"},
		{apperrors.Fatal(errors.New("db down")), http.StatusServiceUnavailable, "FATAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			r := gin.New()
			r.POST("/orders", withActor(models.Actor{ID: primitive.NewObjectID(), Role: models.RoleUser}),
				CreateOrder(&stubService{commitErr: tc.err}))

			w := serve(r, http.MethodPost, "/orders", `{
				"orderItems": [{"productId": "p1", "price": "5.00", "quantity": 2}],
				"shippingAddress": {"address": "a", "city": "b", "postalCode": "c", "country": "d"},
				"paymentMethod": "card"
			}`)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decodeBody(t, w)["code"])
		})
	}
}

func TestPriceMismatchCarriesCurrentPrice(t *testing.T) {
	r := gin.New()
	r.POST("/orders", withActor(models.Actor{ID: primitive.NewObjectID(), Role: models.RoleUser}),
		CreateOrder(&stubService{commitErr: apperrors.PriceMismatch("p1", "Apple", "4.50")}))

	w := serve(r, http.MethodPost, "/orders", `{
		"orderItems": [{"productId": "p1", "price": "5.00", "quantity": 1}],
		"shippingAddress": {"address": "a", "city": "b", "postalCode": "c", "country": "d"},
		"paymentMethod": "cash"
	}`)

	body := decodeBody(t, w)
	assert.Equal(t, "p1", body["productId"])
	assert.Equal(t, "4.50", body["currentPrice"])
}

func TestUpdateOrderStatusForwardsActor(t *testing.T) {
	svc := &stubService{}
	agent := models.Actor{ID: primitive.NewObjectID(), Role: models.RoleDelivery}
	r := gin.New()
	r.PUT("/delivery/orders/:id/status", withActor(agent), UpdateOrderStatus(svc, "PUT /delivery/orders/:id/status"))

	w := serve(r, http.MethodPut, "/delivery/orders/abc/status", `{"status": "Delivered"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, agent, svc.statusActor)
	assert.Equal(t, models.StatusDelivered, svc.statusTo)
}

func TestUpdateOrderStatusForbidden(t *testing.T) {
	svc := &stubService{statusErr: apperrors.Forbidden("order is not assigned to this agent")}
	r := gin.New()
	r.PUT("/delivery/orders/:id/status", withActor(models.Actor{Role: models.RoleDelivery}),
		UpdateOrderStatus(svc, "PUT /delivery/orders/:id/status"))

	w := serve(r, http.MethodPut, "/delivery/orders/abc/status", `{"status": "Delivered"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeBody(t, w)["code"])
}

func TestAssignDeliveryAgentConflict(t *testing.T) {
	r := gin.New()
	r.PUT("/admin/api/orders/:id/agent", withActor(models.Actor{Role: models.RoleAdmin}), AssignDeliveryAgent(&stubService{}))

	w := serve(r, http.MethodPut, "/admin/api/orders/abc/agent", `{"agentId": "x"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeBody(t, w)["code"])
}

func TestGetDeliveryOrdersNeverNull(t *testing.T) {
	r := gin.New()
	r.GET("/delivery/orders", withActor(models.Actor{Role: models.RoleDelivery}), GetDeliveryOrders(&stubService{}))

	w := serve(r, http.MethodGet, "/delivery/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestGetOrderNotFound(t *testing.T) {
	r := gin.New()
	r.GET("/orders/:id", withActor(models.Actor{Role: models.RoleUser}), GetOrder(&stubService{}))

	w := serve(r, http.MethodGet, "/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "nope", decodeBody(t, w)["id"])
}

func TestPayOrderReturnsIntent(t *testing.T) {
	r := gin.New()
	r.POST("/orders/:id/pay", withActor(models.Actor{Role: models.RoleUser}), PayOrder(&stubService{}))

	w := serve(r, http.MethodPost, "/orders/abc/pay", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "secret", body["clientSecret"])
	assert.EqualValues(t, 2150, body["amount"])
}

func TestPaymentWebhookResponses(t *testing.T) {
	cases := []struct {
		name   string
		result func([]byte, string) (orders.Ack, error)
		status int
	}{
		{"handled", func(p []byte, sig string) (orders.Ack, error) {
			return orders.Ack{Outcome: models.EventOutcomePaid, OrderID: "o1"}, nil
		}, http.StatusOK},
		{"bad signature", func([]byte, string) (orders.Ack, error) {
			return orders.Ack{}, apperrors.SignatureInvalid(errors.New("mismatch"))
		}, http.StatusBadRequest},
		{"transient", func([]byte, string) (orders.Ack, error) {
			return orders.Ack{}, apperrors.Conflict(errors.New("write conflict"))
		}, http.StatusServiceUnavailable},
		{"not configured", func([]byte, string) (orders.Ack, error) {
			return orders.Ack{}, apperrors.Fatal(errors.New("no verifier"))
		}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/webhooks/payments", PaymentWebhook(&stubService{reconcile: tc.result}))

			w := serve(r, http.MethodPost, "/webhooks/payments", `{"id":"evt_1"}`, signatureHeader, "t=1,v1=abc")
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestPaymentWebhookPassesRawBodyAndSignature(t *testing.T) {
	var gotPayload, gotSig string
	svc := &stubService{reconcile: func(p []byte, sig string) (orders.Ack, error) {
		gotPayload, gotSig = string(p), sig
		return orders.Ack{Outcome: models.EventOutcomeIgnored}, nil
	}}
	r := gin.New()
	r.POST("/webhooks/payments", PaymentWebhook(svc))

	w := serve(r, http.MethodPost, "/webhooks/payments", `{"id":"evt_1"}`, signatureHeader, "t=1,v1=abc")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"id":"evt_1"}`, gotPayload)
	assert.Equal(t, "t=1,v1=abc", gotSig)
	assert.Equal(t, models.EventOutcomeIgnored, decodeBody(t, w)["outcome"])
}

func TestPaymentWebhookRejectsOversizedBody(t *testing.T) {
	called := false
	svc := &stubService{reconcile: func([]byte, string) (orders.Ack, error) {
		called = true
		return orders.Ack{}, nil
	}}
	r := gin.New()
	r.POST("/webhooks/payments", PaymentWebhook(svc))

	w := serve(r, http.MethodPost, "/webhooks/payments", strings.Repeat("x", maxWebhookBody+1), signatureHeader, "t=1,v1=abc")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, called)

	w = serve(r, http.MethodPost, "/webhooks/payments", strings.Repeat("x", maxWebhookBody), signatureHeader, "t=1,v1=abc")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}
