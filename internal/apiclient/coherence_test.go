package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/realtime"
)

// Every mutating event in the realtime vocabulary must have an invalidation
// rule, or cached reads of the affected data go stale until TTL expiry.
func TestCoherence_EveryMutationEventHasARule(t *testing.T) {
	events := []string{
		realtime.EventAnnouncementChanged,
		realtime.EventSurveyBatchChanged,
		realtime.EventSurveyBatchStatusChanged,
		realtime.EventResponseQueueUpdated,
		realtime.EventYouthChanged,
		realtime.EventSKOfficialChanged,
		realtime.EventSKTermChanged,
		realtime.EventStaffChanged,
		realtime.EventAuditLogCreated,
		realtime.EventUserNotification,
	}

	for _, event := range events {
		assert.NotEmpty(t, InvalidationPatterns(event), "event %s has no invalidation rule", event)
	}
}

func TestCoherence_AnnouncementEventPurgesAnnouncementReads(t *testing.T) {
	store := newTestStore(t)
	subscriber := NewSubscriber(store, "", "", zerolog.Nop())

	store.Set(CacheKey("/announcements", map[string]string{"page": "1"}), envelopeWithData(t, `[]`), time.Minute)
	store.Set(CacheKey("/announcements", map[string]string{"page": "2"}), envelopeWithData(t, `[]`), time.Minute)
	store.Set(CacheKey("/announcements/ANN1", nil), envelopeWithData(t, `{}`), time.Minute)
	store.Set(CacheKey("/youth", nil), envelopeWithData(t, `[]`), time.Minute)

	removed := subscriber.Apply(realtime.EventAnnouncementChanged)
	assert.Equal(t, 3, removed)

	_, ok := store.Get(CacheKey("/youth", nil))
	assert.True(t, ok, "unrelated caches survive")
}

// The response queue and batch listings are denormalized views of the same
// underlying state, so one event purges both.
func TestCoherence_QueueEventPurgesBothViews(t *testing.T) {
	store := newTestStore(t)
	subscriber := NewSubscriber(store, "", "", zerolog.Nop())

	store.Set(CacheKey("/survey-responses", map[string]string{"status": "pending"}), envelopeWithData(t, `[]`), time.Minute)
	store.Set(CacheKey("/survey-batches", nil), envelopeWithData(t, `[]`), time.Minute)
	store.Set(CacheKey("/staff", nil), envelopeWithData(t, `[]`), time.Minute)

	removed := subscriber.Apply(realtime.EventResponseQueueUpdated)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
}

func TestCoherence_UnknownEventIsANoOp(t *testing.T) {
	store := newTestStore(t)
	subscriber := NewSubscriber(store, "", "", zerolog.Nop())

	store.Set("/announcements", envelopeWithData(t, `[]`), time.Minute)

	assert.Equal(t, 0, subscriber.Apply("mystery:event"))
	assert.Equal(t, 1, store.Len())
}

// Run reconnects indefinitely, so each dropped connection must release its
// cancellation watcher instead of parking it until the whole context ends.
func TestCoherence_ReconnectReleasesWatcherGoroutine(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	subscriber := NewSubscriber(newTestStore(t), "ws"+strings.TrimPrefix(server.URL, "http"), "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseline := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		require.Error(t, subscriber.readLoop(ctx))
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, time.Second, 10*time.Millisecond, "watcher goroutines piled up across reconnects")
}

func TestCoherence_MalformedFrameIgnored(t *testing.T) {
	store := newTestStore(t)
	subscriber := NewSubscriber(store, "", "", zerolog.Nop())

	store.Set("/announcements", envelopeWithData(t, `[]`), time.Minute)

	require.NotPanics(t, func() {
		subscriber.HandleFrame([]byte(`not json`))
	})
	assert.Equal(t, 1, store.Len())
}
