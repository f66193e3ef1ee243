package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/models"
)

type StatusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

type AssignAgentRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

// UpdateOrderStatus serves both the admin and delivery routes; the service
// decides what the caller's role may do.
func UpdateOrderStatus(svc OrderService, route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, route)

		actor, ok := requireActor(c)
		if !ok {
			return
		}

		var req StatusUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		order, err := svc.UpdateStatus(c.Request.Context(), actor, c.Param("id"), models.OrderStatus(strings.TrimSpace(req.Status)))
		if err != nil {
			respondWithAppError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func AssignDeliveryAgent(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /admin/api/orders/:id/agent"
		defer handlePanic(c, route)

		actor, ok := requireActor(c)
		if !ok {
			return
		}

		var req AssignAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		order, err := svc.AssignAgent(c.Request.Context(), actor, c.Param("id"), strings.TrimSpace(req.AgentID))
		if err != nil {
			respondWithAppError(c, route, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func GetDeliveryOrders(svc OrderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /delivery/orders"
		defer handlePanic(c, route)

		actor, ok := requireActor(c)
		if !ok {
			return
		}

		list, err := svc.ListAssigned(c.Request.Context(), actor)
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
