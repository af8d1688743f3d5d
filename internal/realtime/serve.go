package realtime

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer in front of this route.
		return true
	},
}

// Options controls the handshake policy.
type Options struct {
	// StrictAuth rejects connections that do not present a valid credential.
	// Outside strict deployments a broken credential degrades to anonymous so
	// public channels stay usable.
	StrictAuth bool
}

// ServeWS upgrades the HTTP request, verifies the handshake credential and
// registers the client with the hub.
func ServeWS(hub *Hub, verifier *Verifier, opts Options, logger zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	identity, err := verifier.Verify(handshakeCredential(r))
	if err != nil {
		if opts.StrictAuth {
			http.Error(w, "strict auth required", http.StatusUnauthorized)
			return
		}
		logger.Warn().Err(err).Msg("Handshake credential rejected, continuing anonymous")
		identity = nil
	}
	if identity == nil && opts.StrictAuth {
		http.Error(w, "strict auth required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}

	client := NewClient(uuid.New().String(), identity, hub, conn, logger)
	hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// handshakeCredential extracts the bearer token from the query string or the
// Authorization header. Absent token means anonymous, not an error.
func handshakeCredential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}
