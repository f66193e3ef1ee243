package handlers

import (
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/models"
)

// AdminLogin is the customer login limited to admin accounts. A valid
// non-admin account is answered exactly like a wrong password.
func AdminLogin(db *mongo.Database, tokens TokenConfig) gin.HandlerFunc {
	return loginHandler(db, tokens, "POST /admin/login", models.RoleAdmin)
}
