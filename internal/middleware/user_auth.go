package middleware

import (
	"github.com/gin-gonic/gin"

	"storefront/internal/models"
)

const actorKey = "actor"

// UserAuth accepts any authenticated role.
func UserAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret)
}

func SetActor(c *gin.Context, actor models.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the caller stored by AuthGuard.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
