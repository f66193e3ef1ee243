package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"storefront/internal/models"
)

// CreateDeliveryAgent opens a customer account with the delivery role.
// Agents log in through the regular customer login.
func CreateDeliveryAgent(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/agents"
		defer handlePanic(c, route)

		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		agent, err := createCustomer(c.Request.Context(), db, req, models.RoleDelivery)
		if err != nil {
			respondCreateCustomerError(c, route, err)
			return
		}

		zap.L().Info("delivery agent created", zap.String("agentId", agent.ID.Hex()), zap.String("email", agent.Email))
		c.JSON(http.StatusCreated, agent)
	}
}
