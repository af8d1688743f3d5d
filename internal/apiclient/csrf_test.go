package apiclient

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_SingleFetchForConcurrentCallers(t *testing.T) {
	var fetches atomic.Int64
	manager := NewTokenManager(func(ctx context.Context) (string, error) {
		fetches.Add(1)
		time.Sleep(30 * time.Millisecond) // hold the fetch open so callers pile up
		return "tok-1", nil
	}, false)

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := manager.Token(context.Background())
			require.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load(), "concurrent callers must share one in-flight fetch")
	for _, token := range tokens {
		assert.Equal(t, "tok-1", token)
	}
}

func TestTokenManager_CachedTokenSkipsFetch(t *testing.T) {
	var fetches atomic.Int64
	manager := NewTokenManager(func(ctx context.Context) (string, error) {
		fetches.Add(1)
		return "tok", nil
	}, false)

	manager.Set("cached")
	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, int64(0), fetches.Load())
}

func TestTokenManager_RefreshAfterClear(t *testing.T) {
	calls := atomic.Int64{}
	manager := NewTokenManager(func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		if n == 1 {
			return "first", nil
		}
		return "second", nil
	}, false)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", token)

	token, err = manager.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", token)
}

func TestTokenManager_HeaderBeatsBody(t *testing.T) {
	manager := NewTokenManager(nil, false)
	manager.Set("stale")

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set(HeaderCSRFToken, "from-header")

	manager.UpdateFromResponse(resp, &Envelope{CSRFToken: "from-body"})
	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-header", token, "response header is the authoritative source")
}

func TestTokenManager_BodyFallback(t *testing.T) {
	manager := NewTokenManager(nil, false)
	manager.Set("stale")

	manager.UpdateFromResponse(&http.Response{Header: http.Header{}}, &Envelope{CSRFToken: "from-body"})
	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-body", token)
}

func TestTokenManager_CookieOnlyWhenSameOrigin(t *testing.T) {
	cookieResp := func() *http.Response {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Add("Set-Cookie", csrfCookieName+"=from-cookie")
		return resp
	}

	crossOrigin := NewTokenManager(nil, false)
	crossOrigin.Set("stale")
	crossOrigin.UpdateFromResponse(cookieResp(), &Envelope{})
	token, _ := crossOrigin.Token(context.Background())
	assert.Equal(t, "stale", token, "cross-origin deployments cannot read the cookie")

	sameOrigin := NewTokenManager(nil, true)
	sameOrigin.Set("stale")
	sameOrigin.UpdateFromResponse(cookieResp(), &Envelope{})
	token, _ = sameOrigin.Token(context.Background())
	assert.Equal(t, "from-cookie", token)
}
