package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/models"
	"storefront/internal/orders"
)

// OrderService is the order workflow as the HTTP layer sees it.
type OrderService interface {
	Commit(ctx context.Context, req orders.CommitRequest) (models.Order, error)
	GetOrder(ctx context.Context, actor models.Actor, orderID string) (models.Order, error)
	ListMine(ctx context.Context, actor models.Actor) ([]models.Order, error)
	ListAssigned(ctx context.Context, actor models.Actor) ([]models.Order, error)
	StartPayment(ctx context.Context, actor models.Actor, orderID string) (orders.Intent, error)
	Reconcile(ctx context.Context, payload []byte, signature string) (orders.Ack, error)
	UpdateStatus(ctx context.Context, actor models.Actor, orderID string, target models.OrderStatus) (models.Order, error)
	AssignAgent(ctx context.Context, actor models.Actor, orderID, agentID string) (models.Order, error)
}

type createOrderItemRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
}

type createOrderRequest struct {
	OrderItems      []createOrderItemRequest `json:"orderItems" binding:"required,min=1,dive"`
	ShippingAddress models.ShippingAddress   `json:"shippingAddress" binding:"required"`
	PaymentMethod   string                   `json:"paymentMethod" binding:"required"`
}

func CreateOrder(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders"
		defer handlePanic(c, route)

		actor, ok := requireActor(c)
		if !ok {
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		lines := make([]orders.CartLine, 0, len(req.OrderItems))
		for _, item := range req.OrderItems {
			lines = append(lines, orders.CartLine{
				ProductID:        strings.TrimSpace(item.ProductID),
				ClaimedUnitPrice: item.Price,
				Quantity:         item.Quantity,
			})
		}

		order, err := svc.Commit(c.Request.Context(), orders.CommitRequest{
			UserID:          actor.ID,
			Lines:           lines,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		})
		if err != nil {
			respondWithAppError(c, route, err)
			return
		}

		c.JSON(http.StatusCreated, order)
	}
}

func GetMyOrders(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders/mine"
		defer handlePanic(c, route)

		actor, ok := requireActor(c)
		if !ok {
			return
		}
		list, err := svc.ListMine(c.Request.Context(), actor)
		if err != nil {
			respondWithAppError(c, route, err)
			return
		}
		if list == nil {
			list = []models.Order{}
		}
		c.JSON(http.StatusOK, list)
	}
}

func GetOrder(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders/:id"
		defer handlePanic(c, route)

		actor, ok := requireActor(c)
		if !ok {
			return
		}
		order, err := svc.GetOrder(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			respondWithAppError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// PayOrder creates the provider payment intent for a card order and hands
// the client secret to the caller.
func PayOrder(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders/:id/pay"
		defer handlePanic(c, route)

		actor, ok := requireActor(c)
		if !ok {
			return
		}
		intent, err := svc.StartPayment(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			respondWithAppError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, intent)
	}
}
