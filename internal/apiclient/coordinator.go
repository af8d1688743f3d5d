package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel classifications for coordinator faults. Cancellation is swallowed
// by UI code; an expired session is a refresh-needed signal, not a render
// error.
var (
	ErrCanceled    = errors.New("request canceled")
	ErrAuthExpired = errors.New("authentication expired")
)

// APIError carries the status, message and server-provided detail of a
// non-retriable HTTP failure.
type APIError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Config wires a Coordinator.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      *Store
	SameOrigin bool
	DefaultTTL time.Duration
	Logger     zerolog.Logger
}

// Coordinator wraps outbound HTTP with cache short-circuiting, anti-forgery
// token lifecycle and cancellation-aware error classification.
type Coordinator struct {
	baseURL    string
	httpClient *http.Client
	cache      *Store
	tokens     *TokenManager
	defaultTTL time.Duration
	logger     zerolog.Logger
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Cache == nil {
		cfg.Cache = NewStore(DefaultMaxEntries, DefaultSweepInterval)
	}

	c := &Coordinator{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		cache:      cfg.Cache,
		defaultTTL: cfg.DefaultTTL,
		logger:     cfg.Logger,
	}
	c.tokens = NewTokenManager(c.fetchToken, cfg.SameOrigin)
	return c
}

// Cache exposes the underlying store, mainly for the coherence subscriber.
func (c *Coordinator) Cache() *Store {
	return c.cache
}

// Tokens exposes the anti-forgery token manager.
func (c *Coordinator) Tokens() *TokenManager {
	return c.tokens
}

// Get reads through the cache with the default TTL.
func (c *Coordinator) Get(ctx context.Context, path string, params map[string]string) (*Envelope, error) {
	return c.GetTTL(ctx, path, params, c.defaultTTL)
}

// GetTTL reads through the cache. A hit returns without touching the network;
// a miss dispatches and, on success, stores the full envelope under the
// request's key. A read canceled mid-flight writes nothing and returns
// ErrCanceled.
func (c *Coordinator) GetTTL(ctx context.Context, path string, params map[string]string, ttl time.Duration) (*Envelope, error) {
	key := CacheKey(path, params)
	if env, ok := c.cache.Get(key); ok {
		return env, nil
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for name, value := range params {
			values.Set(name, value)
		}
		reqURL += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	env, err := c.dispatch(req)
	if err != nil {
		return nil, err
	}

	// The cancellation may have landed between the response and here; a
	// canceled read must not race a stale value into the cache.
	if ctx.Err() != nil {
		return nil, ErrCanceled
	}

	c.cache.Set(key, env, ttl)
	return env, nil
}

// Post issues a state-changing request with the anti-forgery token attached.
func (c *Coordinator) Post(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.mutate(ctx, http.MethodPost, path, body)
}

func (c *Coordinator) Put(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.mutate(ctx, http.MethodPut, path, body)
}

func (c *Coordinator) Patch(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.mutate(ctx, http.MethodPatch, path, body)
}

func (c *Coordinator) Delete(ctx context.Context, path string) (*Envelope, error) {
	return c.mutate(ctx, http.MethodDelete, path, nil)
}

func (c *Coordinator) mutate(ctx context.Context, method, path string, body any) (*Envelope, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("anti-forgery token unavailable: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderCSRFToken, token)
	req.Header.Set(HeaderXSRFToken, token)

	env, err := c.dispatch(req)
	if err != nil {
		return nil, err
	}

	// The originating tab invalidates immediately from the response; the
	// broadcast-driven path covers every other session. The two are
	// deliberately redundant.
	c.cache.Invalidate(resourcePrefix(path))
	return env, nil
}

// dispatch sends the request and classifies the outcome. The token manager is
// updated from every response that produces one, success or failure.
func (c *Coordinator) dispatch(req *http.Request) (*Envelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil || errors.Is(err, context.Canceled) {
			c.logger.Debug().Str("path", req.URL.Path).Msg("Request canceled")
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	env := &Envelope{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, env); err != nil {
			env = &Envelope{Message: strings.TrimSpace(string(data))}
		}
	}

	c.tokens.UpdateFromResponse(resp, env)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.classify(resp.StatusCode, env)
	}
	return env, nil
}

func (c *Coordinator) classify(status int, env *Envelope) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuthExpired

	case status == http.StatusForbidden && isCSRFFailure(env.Message):
		// Recover in the background so the next mutation attempt succeeds
		// without manual intervention.
		c.tokens.Clear()
		go func() {
			if _, err := c.tokens.Refresh(context.Background()); err != nil {
				c.logger.Warn().Err(err).Msg("Anti-forgery token refresh failed")
			}
		}()
		return &APIError{Status: status, Message: env.Message, Details: env.Data}

	default:
		message := env.Message
		if message == "" {
			message = http.StatusText(status)
		}
		return &APIError{Status: status, Message: message, Details: env.Data}
	}
}

// fetchToken is the shared in-flight fetch behind the token manager.
func (c *Coordinator) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/csrf-token", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(HeaderCSRFToken); token != "" {
		return token, nil
	}

	env := &Envelope{}
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if env.CSRFToken == "" {
		return "", errors.New("no anti-forgery token in response")
	}
	return env.CSRFToken, nil
}

func isCSRFFailure(message string) bool {
	return strings.Contains(strings.ToLower(message), "csrf")
}

// resourcePrefix reduces a mutated path to its collection prefix, so that a
// write to /announcements/ANN5 purges every /announcements read.
func resourcePrefix(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return path
	}
	return "/" + strings.SplitN(trimmed, "/", 2)[0]
}
