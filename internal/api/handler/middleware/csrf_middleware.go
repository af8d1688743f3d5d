package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/api/handler/response"
)

// Anti-forgery token header names. Both are accepted on requests for
// compatibility; responses always set the canonical one.
const (
	HeaderCSRFToken = "X-CSRF-Token"
	HeaderXSRFToken = "X-XSRF-Token"
)

const csrfKeyPrefix = "csrf:"

// CSRFStore keeps issued anti-forgery tokens in redis so every API instance
// can validate a token issued by any other.
type CSRFStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCSRFStore(client *redis.Client, ttl time.Duration) *CSRFStore {
	return &CSRFStore{client: client, ttl: ttl}
}

// Issue mints and stores a fresh token.
func (s *CSRFStore) Issue(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := uuid.New().String()
	if err := s.client.Set(ctx, csrfKeyPrefix+token, "1", s.ttl).Err(); err != nil {
		return "", fmt.Errorf("csrf issue: %w", err)
	}
	return token, nil
}

// Valid reports whether the token is currently issued.
func (s *CSRFStore) Valid(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n, err := s.client.Exists(ctx, csrfKeyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("csrf lookup: %w", err)
	}
	return n > 0, nil
}

// Rotate retires the presented token and mints its replacement.
func (s *CSRFStore) Rotate(ctx context.Context, old string) (string, error) {
	fresh, err := s.Issue(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, csrfKeyPrefix+old).Err(); err != nil {
		return fresh, fmt.Errorf("csrf retire: %w", err)
	}
	return fresh, nil
}

// CSRFMiddleware enforces the anti-forgery token on state-changing requests
// and rotates it on every accepted one, exposing the replacement in the
// response header.
func CSRFMiddleware(store *CSRFStore, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		token := c.GetHeader(HeaderCSRFToken)
		if token == "" {
			token = c.GetHeader(HeaderXSRFToken)
		}
		if token == "" {
			c.JSON(http.StatusForbidden, response.Fail("CSRF token required"))
			c.Abort()
			return
		}

		ok, err := store.Valid(c.Request.Context(), token)
		if err != nil {
			logger.Error().Err(err).Msg("CSRF validation failed")
			c.JSON(http.StatusInternalServerError, response.Fail("Token validation unavailable"))
			c.Abort()
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, response.Fail("Invalid CSRF token"))
			c.Abort()
			return
		}

		fresh, err := store.Rotate(c.Request.Context(), token)
		if err != nil {
			logger.Warn().Err(err).Msg("CSRF rotation failed, keeping current token")
		} else {
			c.Header(HeaderCSRFToken, fresh)
		}

		c.Next()
	}
}
