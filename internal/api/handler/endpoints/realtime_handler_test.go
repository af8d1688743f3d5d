package endpoints

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	youthgov "github.com/Honniee/YouthGovernanceWeb-sub002"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/api/handler/middleware"
	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/realtime"
	"github.com/Honniee/YouthGovernanceWeb-sub002/pkg/token"
)

const statsTestSecret = "stats-test-secret"

func newRealtimeRouter(t *testing.T) *graceful.Graceful {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router, err := graceful.Default(graceful.WithAddr("127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(router.Close)

	var cfg youthgov.AppConfig
	cfg.JWTConfig.Secret = statsTestSecret

	hub := realtime.NewHub(zerolog.Nop())
	verifier := realtime.NewVerifier(statsTestSecret)
	csrf := middleware.NewCSRFStore(nil, time.Minute)
	RealtimeHandler(router, hub, verifier, cfg, csrf, zerolog.Nop())
	return router
}

func getStats(t *testing.T, router *graceful.Graceful, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/realtime/stats", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRealtimeStats_RequiresAdminCredential(t *testing.T) {
	router := newRealtimeRouter(t)

	rec := getStats(t, router, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	official, err := token.Generate("SK001", realtime.RoleSKOfficial, statsTestSecret, time.Hour)
	require.NoError(t, err)
	rec = getStats(t, router, official)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := token.Generate("LYDO001", realtime.RoleAdmin, statsTestSecret, time.Hour)
	require.NoError(t, err)
	rec = getStats(t, router, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"connections":0,"identities":0}}`, rec.Body.String())
}
