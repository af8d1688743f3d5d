package realtime

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const identityShardCount = 16

// identityShard holds a partition of the identity-to-connections index.
// Each identity's connection set is mutated under its shard lock only, so
// concurrent connects for different identities do not serialize on each other.
type identityShard struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{} // identity id -> set of connection ids
}

// Hub is the connection registry and channel router. It owns every live
// Client, the identity index and channel membership. Exactly one Hub exists
// per process, constructed by the entry point and passed by reference to
// everything that emits.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	chanMu   sync.RWMutex
	channels map[string]map[string]*Client

	shards [identityShardCount]*identityShard

	connCount     atomic.Int64
	identityCount atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	h := &Hub{
		logger:   logger,
		clients:  make(map[string]*Client),
		channels: make(map[string]map[string]*Client),
	}
	for i := range h.shards {
		h.shards[i] = &identityShard{conns: make(map[string]map[string]struct{})}
	}
	return h
}

func (h *Hub) shardFor(identityID string) *identityShard {
	f := fnv.New32a()
	f.Write([]byte(identityID))
	return h.shards[f.Sum32()%identityShardCount]
}

// Register stores the client, indexes it under its identity and joins its
// default channels.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.connCount.Add(1)

	if client.Identity != nil {
		shard := h.shardFor(client.Identity.ID)
		shard.mu.Lock()
		set, exists := shard.conns[client.Identity.ID]
		if !exists {
			set = make(map[string]struct{})
			shard.conns[client.Identity.ID] = set
			h.identityCount.Add(1)
		}
		set[client.ID] = struct{}{}
		shard.mu.Unlock()
	}

	for _, name := range DefaultChannels(client.Identity) {
		h.joinChannel(client, name)
	}

	h.logger.Info().
		Str("connId", client.ID).
		Bool("authenticated", client.Identity != nil).
		Int64("totalConnections", h.connCount.Load()).
		Msg("Connection registered")
}

// Unregister tears down a client. A duplicate call for an already-removed
// connection is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	h.mu.Unlock()
	h.connCount.Add(-1)

	h.chanMu.Lock()
	for name := range client.channels {
		if members, ok := h.channels[name]; ok {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.channels, name)
			}
		}
	}
	h.chanMu.Unlock()

	if client.Identity != nil {
		shard := h.shardFor(client.Identity.ID)
		shard.mu.Lock()
		if set, ok := shard.conns[client.Identity.ID]; ok {
			delete(set, client.ID)
			if len(set) == 0 {
				delete(shard.conns, client.Identity.ID)
				h.identityCount.Add(-1)
			}
		}
		shard.mu.Unlock()
	}

	// Closed last, after membership removal: every deliver pass holds the
	// relevant lock for the duration of its sends, so once the client is out
	// of the maps no sender can still be writing to this channel.
	close(client.send)

	h.logger.Info().
		Str("connId", client.ID).
		Int64("totalConnections", h.connCount.Load()).
		Msg("Connection unregistered")
}

// Join handles client-requested subscriptions. Reserved channel names are
// skipped: identity and role channels are only ever assigned internally.
func (h *Hub) Join(client *Client, names []string) {
	for _, name := range names {
		if name == "" || reservedChannel(name) {
			continue
		}
		h.joinChannel(client, name)
	}
}

// Leave handles client-requested unsubscriptions for ad hoc channels.
func (h *Hub) Leave(client *Client, names []string) {
	h.chanMu.Lock()
	defer h.chanMu.Unlock()

	for _, name := range names {
		if name == "" || reservedChannel(name) {
			continue
		}
		delete(client.channels, name)
		if members, ok := h.channels[name]; ok {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.channels, name)
			}
		}
	}
}

func (h *Hub) joinChannel(client *Client, name string) {
	h.chanMu.Lock()
	defer h.chanMu.Unlock()

	members, ok := h.channels[name]
	if !ok {
		members = make(map[string]*Client)
		h.channels[name] = members
	}
	members[client.ID] = client
	client.channels[name] = struct{}{}
}

// deliver pushes a prepared frame to every member of a channel. Slow
// consumers are skipped rather than blocking the emitter.
func (h *Hub) deliver(channel string, frame []byte) {
	h.chanMu.RLock()
	defer h.chanMu.RUnlock()

	for _, client := range h.channels[channel] {
		select {
		case client.send <- frame:
		default:
			h.logger.Warn().
				Str("connId", client.ID).
				Str("channel", channel).
				Msg("Client send buffer full, message dropped")
		}
	}
}

// deliverAll pushes a frame to every live connection regardless of channel
// membership.
func (h *Hub) deliverAll(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- frame:
		default:
			h.logger.Warn().
				Str("connId", client.ID).
				Msg("Client send buffer full, message dropped")
		}
	}
}

// deliverToIdentity pushes a frame to every connection authenticated as the
// given identity (all tabs/devices).
func (h *Hub) deliverToIdentity(identityID string, frame []byte) {
	shard := h.shardFor(identityID)
	shard.mu.Lock()
	ids := make([]string, 0, len(shard.conns[identityID]))
	for id := range shard.conns[identityID] {
		ids = append(ids, id)
	}
	shard.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		client, ok := h.clients[id]
		if !ok {
			continue
		}
		select {
		case client.send <- frame:
		default:
			h.logger.Warn().
				Str("connId", client.ID).
				Str("identity", identityID).
				Msg("Client send buffer full, message dropped")
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	return int(h.connCount.Load())
}

// IdentityCount returns the number of distinct authenticated identities.
func (h *Hub) IdentityCount() int {
	return int(h.identityCount.Load())
}

// IdentityConnections returns how many live connections one identity has.
func (h *Hub) IdentityConnections(identityID string) int {
	shard := h.shardFor(identityID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return len(shard.conns[identityID])
}
