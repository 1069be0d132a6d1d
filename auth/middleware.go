package auth

import (
	"strings"
	"widget-sync-engine/internal/errors"
	"widget-sync-engine/redis"

	"github.com/gin-gonic/gin"
)

// AuthMiddleWare resolves the opaque userId from the identity provider's
// token and stores it in the request context under "user_id".
func AuthMiddleWare(cache *redis.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthenticated("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		userID, err := VerifyJWT(token)
		if err != nil {
			ctx.Error(errors.Unauthenticated("Invalid token!", err))
			ctx.Abort()
			return
		}

		// signed-out tokens are removed from redis by the identity provider
		if cache.Available() {
			exists, err := cache.Exists(ctx.Request.Context(), "token:"+token)
			if err != nil || !exists {
				ctx.Error(errors.Unauthenticated("Token expired or not found", err))
				ctx.Abort()
				return
			}
		}

		ctx.Set("user_id", userID)
		ctx.Next()
	}
}

// UserID pulls the authenticated user from the gin context, fail-closed.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
