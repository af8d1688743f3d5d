package apiclient

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Accepted header names for the anti-forgery token, for compatibility with
// both client generations.
const (
	HeaderCSRFToken = "X-CSRF-Token"
	HeaderXSRFToken = "X-XSRF-Token"

	csrfCookieName = "XSRF-TOKEN"
)

// TokenManager caches the single active anti-forgery token. Concurrent
// callers that find no cached token share one in-flight fetch via
// singleflight; the token rotates unconditionally from every response, header
// taking precedence over body, with a same-origin cookie as last fallback.
type TokenManager struct {
	mu    sync.Mutex
	token string

	group singleflight.Group
	fetch func(ctx context.Context) (string, error)

	// sameOrigin enables the cookie fallback; cross-origin deployments cannot
	// read the cookie and must rely on the header/body channel.
	sameOrigin bool
}

func NewTokenManager(fetch func(ctx context.Context) (string, error), sameOrigin bool) *TokenManager {
	return &TokenManager{fetch: fetch, sameOrigin: sameOrigin}
}

// Token returns the cached token, or performs (or joins) the single in-flight
// fetch when none is cached.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("csrf", func() (interface{}, error) {
		token, err := m.fetch(ctx)
		if err != nil {
			return "", err
		}
		m.Set(token)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Refresh discards the cached token and fetches a fresh one.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.Clear()
	return m.Token(ctx)
}

func (m *TokenManager) Set(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *TokenManager) Clear() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// UpdateFromResponse rotates the cached token from the most authoritative
// source the response carries. Tokens rotate server-side, so the latest
// issued value always wins.
func (m *TokenManager) UpdateFromResponse(resp *http.Response, env *Envelope) {
	if resp != nil {
		if token := resp.Header.Get(HeaderCSRFToken); token != "" {
			m.Set(token)
			return
		}
		if token := resp.Header.Get(HeaderXSRFToken); token != "" {
			m.Set(token)
			return
		}
	}

	if env != nil && env.CSRFToken != "" {
		m.Set(env.CSRFToken)
		return
	}

	if m.sameOrigin && resp != nil {
		for _, cookie := range resp.Cookies() {
			if cookie.Name == csrfCookieName && cookie.Value != "" {
				m.Set(cookie.Value)
				return
			}
		}
	}
}
