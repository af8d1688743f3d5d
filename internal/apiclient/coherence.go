package apiclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Honniee/YouthGovernanceWeb-sub002/internal/realtime"
)

// invalidationRules maps each inbound event name onto the cache-key
// substrings to purge. This table is the correctness-critical artifact of the
// subsystem: every server-side mutation that can change a cached read must
// have an entry here, or stale data survives until TTL expiry.
//
// Denormalized pairs invalidate each other: the response queue is a view over
// survey batches, SK officials and terms are two views of the same roster.
var invalidationRules = map[string][]string{
	realtime.EventAnnouncementChanged:      {"/announcements"},
	realtime.EventSurveyBatchChanged:       {"/survey-batches"},
	realtime.EventSurveyBatchStatusChanged: {"/survey-batches"},
	realtime.EventResponseQueueUpdated:     {"/survey-responses", "/survey-batches"},
	realtime.EventYouthChanged:             {"/youth"},
	realtime.EventSKOfficialChanged:        {"/sk-officials", "/sk-terms"},
	realtime.EventSKTermChanged:            {"/sk-terms", "/sk-officials"},
	realtime.EventStaffChanged:             {"/staff"},
	realtime.EventAuditLogCreated:          {"/audit-logs"},
	realtime.EventUserNotification:         {"/notifications"},
}

// InvalidationPatterns returns the cache patterns purged for an event name.
func InvalidationPatterns(event string) []string {
	return invalidationRules[event]
}

// wsEnvelope is the inbound frame shape from the hub.
type wsEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Subscriber keeps the cache coherent with server state by purging entries as
// broadcast events arrive. A dropped connection degrades silently: entries
// still expire by TTL, so no error surfaces to UI code.
type Subscriber struct {
	cache      *Store
	wsURL      string
	credential string
	dialer     *websocket.Dialer
	logger     zerolog.Logger
}

func NewSubscriber(cache *Store, wsURL, credential string, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		cache:      cache,
		wsURL:      wsURL,
		credential: credential,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

// Apply purges the cache for one event and returns how many entries went.
func (s *Subscriber) Apply(event string) int {
	removed := 0
	for _, pattern := range invalidationRules[event] {
		removed += s.cache.Invalidate(pattern)
	}
	return removed
}

// HandleFrame decodes one inbound frame and applies its invalidations.
func (s *Subscriber) HandleFrame(frame []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.logger.Debug().Err(err).Msg("Ignoring malformed realtime frame")
		return
	}
	if removed := s.Apply(env.Event); removed > 0 {
		s.logger.Debug().Str("event", env.Event).Int("removed", removed).Msg("Cache invalidated by event")
	}
}

// Run connects to the hub and processes frames until the context is done,
// reconnecting with a flat backoff. All failures are logged at debug level
// only; freshness falls back to TTL while disconnected.
func (s *Subscriber) Run(ctx context.Context) {
	const retryDelay = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			s.logger.Debug().Err(err).Msg("Realtime subscription dropped, retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context) error {
	wsURL := s.wsURL
	if s.credential != "" {
		wsURL += "?token=" + s.credential
	}

	conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The watcher must not outlive this connection: Run reconnects in a
	// loop, and a watcher parked on ctx.Done alone would pile up one
	// goroutine per reconnect.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.HandleFrame(frame)
	}
}
