package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"storefront/internal/models"
)

// AuthGuard validates the bearer token and stores the caller as a
// models.Actor. With allowedRoles set, other roles get 403.
func AuthGuard(secret string, allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token", "code": "UNAUTHORIZED"})
			return
		}

		parts := strings.Split(raw, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "UNAUTHORIZED"})
			return
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			zap.L().Debug("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}

		actor, ok := actorFromClaims(claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}

		if len(allowedRoles) > 0 {
			match := false
			for _, r := range allowedRoles {
				if actor.Role == r {
					match = true
					break
				}
			}
			if !match {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "FORBIDDEN"})
				return
			}
		}

		SetActor(c, actor)
		c.Next()
	}
}

// CustomerAuth admits only the customer role, for routes such as checkout
// that act on the caller's own account.
func CustomerAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret, models.RoleUser)
}

func AdminAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret, models.RoleAdmin)
}

func DeliveryAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret, models.RoleDelivery)
}

// actorFromClaims reads sub, role and email. Tokens never carry the system
// role; it is reserved for background jobs.
func actorFromClaims(claims jwt.MapClaims) (models.Actor, bool) {
	sub, _ := claims["sub"].(string)
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(sub))
	if err != nil {
		return models.Actor{}, false
	}

	role, _ := claims["role"].(string)
	switch role {
	case models.RoleUser, models.RoleAdmin, models.RoleDelivery:
	case "":
		role = models.RoleUser
	default:
		return models.Actor{}, false
	}

	email, _ := claims["email"].(string)
	return models.Actor{ID: id, Role: role, Email: email}, true
}
