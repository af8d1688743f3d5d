package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// bridgeMsg is the body domain collaborators publish to NATS. The subject
// selects the addressing primitive; the body names the event and carries its
// payload untouched.
type bridgeMsg struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NATSBridge lets out-of-process collaborators reach the hub: services that
// commit a mutation publish a change event on ygw.events.* and the bridge
// fans it into the Emitter. Subjects:
//
//	ygw.events.all                 -> EmitBroadcast
//	ygw.events.role.<role>         -> EmitToRole
//	ygw.events.user.<identity-id>  -> EmitToIdentity
//	ygw.events.channel.<name>      -> EmitToChannel
type NATSBridge struct {
	conn    *nats.Conn
	emitter *Emitter
	logger  zerolog.Logger
}

func NewNATSBridge(natsURL string, emitter *Emitter, logger zerolog.Logger) (*NATSBridge, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBridge{conn: nc, emitter: emitter, logger: logger}, nil
}

// Subscribe listens on every event subject and routes into the emitter.
func (b *NATSBridge) Subscribe() error {
	subject := "ygw.events.>"
	_, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		b.route(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %q: %w", subject, err)
	}

	b.logger.Info().Str("subject", subject).Msg("NATS bridge subscribed")
	return nil
}

func (b *NATSBridge) route(subject string, data []byte) {
	var body bridgeMsg
	if err := json.Unmarshal(data, &body); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("nats: bad event body")
		return
	}
	if body.Event == "" {
		b.logger.Warn().Str("subject", subject).Msg("nats: event name missing")
		return
	}

	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0] != "ygw" || parts[1] != "events" {
		b.logger.Warn().Str("subject", subject).Msg("nats: bad subject")
		return
	}

	switch parts[2] {
	case "all":
		b.emitter.EmitBroadcast(body.Event, body.Payload)
	case "role":
		if len(parts) == 4 {
			b.emitter.EmitToRole(parts[3], body.Event, body.Payload)
			return
		}
		b.logger.Warn().Str("subject", subject).Msg("nats: role subject needs 4 parts")
	case "user":
		if len(parts) == 4 {
			b.emitter.EmitToIdentity(parts[3], body.Event, body.Payload)
			return
		}
		b.logger.Warn().Str("subject", subject).Msg("nats: user subject needs 4 parts")
	case "channel":
		if len(parts) == 4 {
			b.emitter.EmitToChannel(parts[3], body.Event, body.Payload)
			return
		}
		b.logger.Warn().Str("subject", subject).Msg("nats: channel subject needs 4 parts")
	default:
		b.logger.Warn().Str("subject", subject).Msg("nats: unknown scope")
	}
}

// Close drains the NATS connection.
func (b *NATSBridge) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("nats drain")
	}
}
