package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	youthgov "github.com/Honniee/YouthGovernanceWeb-sub002"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/api/handler/response"
	"github.com/Honniee/YouthGovernanceWeb-sub002/pkg/token"
)

// AuthMiddleware validates the Bearer credential on REST routes and stashes
// the caller's identity on the context for RequireRole.
func AuthMiddleware(cfg youthgov.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, response.Fail("Authorization header required"))
			c.Abort()
			return
		}

		// Bearer token format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, response.Fail("Invalid authorization header format"))
			c.Abort()
			return
		}

		claims, err := token.Validate(parts[1], cfg.JWTConfig.Secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, response.Fail("Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("userRole", claims.Role)

		c.Next()
	}
}

// RequireRole allows the request through only when the authenticated role is
// one of the listed roles. It must run after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("userRole")
		if !exists {
			c.JSON(http.StatusUnauthorized, response.Fail("User role not found"))
			c.Abort()
			return
		}

		role := userRole.(string)
		for _, allowedRole := range roles {
			if role == allowedRole {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, response.Fail("Insufficient permissions"))
		c.Abort()
	}
}
