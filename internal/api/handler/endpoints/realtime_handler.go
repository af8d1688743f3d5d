package endpoints

import (
	"net/http"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	youthgov "github.com/Honniee/YouthGovernanceWeb-sub002"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/api/handler/middleware"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/api/handler/response"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/realtime"
)

type realtimeHandler struct {
	hub      *realtime.Hub
	verifier *realtime.Verifier
	opts     realtime.Options
	csrf     *middleware.CSRFStore
	logger   zerolog.Logger
}

// RealtimeHandler mounts the websocket upgrade, the observability counters
// and the anti-forgery token endpoint.
func RealtimeHandler(router *graceful.Graceful, hub *realtime.Hub, verifier *realtime.Verifier, cfg youthgov.AppConfig, csrf *middleware.CSRFStore, logger zerolog.Logger) {
	h := &realtimeHandler{
		hub:      hub,
		verifier: verifier,
		opts:     realtime.Options{StrictAuth: cfg.RealtimeConfig.StrictAuth},
		csrf:     csrf,
		logger:   logger,
	}

	routes := router.Group("/api/v1/realtime")
	{
		routes.GET("/ws", h.handleWebSocket)
		routes.GET("/stats",
			middleware.AuthMiddleware(cfg),
			middleware.RequireRole(realtime.RoleAdmin),
			h.getStats)
	}

	router.GET("/api/v1/csrf-token", h.getCSRFToken)
}

// handleWebSocket hands the request to the hub's upgrade path. Anonymous
// connections are accepted outside strict deployments.
func (slf *realtimeHandler) handleWebSocket(c *gin.Context) {
	realtime.ServeWS(slf.hub, slf.verifier, slf.opts, slf.logger, c.Writer, c.Request)
}

// getStats exposes connection and distinct-identity counts for health
// collaborators.
func (slf *realtimeHandler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, response.OK(gin.H{
		"connections": slf.hub.ConnectionCount(),
		"identities":  slf.hub.IdentityCount(),
	}))
}

// getCSRFToken issues a fresh anti-forgery token in both the response header
// and the envelope body.
func (slf *realtimeHandler) getCSRFToken(c *gin.Context) {
	token, err := slf.csrf.Issue(c.Request.Context())
	if err != nil {
		slf.logger.Error().Err(err).Msg("Failed to issue CSRF token")
		c.JSON(http.StatusInternalServerError, response.Fail("Token issuance unavailable"))
		return
	}

	c.Header(middleware.HeaderCSRFToken, token)
	c.JSON(http.StatusOK, response.Envelope{Success: true, CSRFToken: token})
}
