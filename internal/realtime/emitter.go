package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const emitQueueSize = 256

// envelope is the frame shape delivered to clients. The payload schema is a
// contract between the domain collaborator and the subscriber, not the
// transport.
type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type emitJob struct {
	event   string
	frame   []byte
	deliver func([]byte)
}

// Emitter is the publish-side API handed to domain collaborators. Every emit
// is fire-and-forget: best-effort, at-most-once, and never allowed to fail
// the caller. Emissions are pushed onto a bounded queue drained by one
// background worker, which keeps delivery FIFO relative to emission order
// while the calling goroutine never blocks.
type Emitter struct {
	hub    *Hub
	logger zerolog.Logger
	queue  chan emitJob

	mu     sync.Mutex
	closed bool
}

func NewEmitter(hub *Hub, logger zerolog.Logger) *Emitter {
	e := &Emitter{
		hub:    hub,
		logger: logger,
		queue:  make(chan emitJob, emitQueueSize),
	}
	go e.drain()
	return e
}

// Close stops the background worker. Pending emissions are dropped, and
// emissions arriving after Close are swallowed like any other late
// notification.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.queue)
}

// EmitToRole delivers an event to every connection in the role's channel.
func (e *Emitter) EmitToRole(role, event string, payload any) {
	e.enqueue(event, payload, func(frame []byte) {
		e.hub.deliver(RoleChannel(role), frame)
	})
}

// EmitToChannel delivers an event to every subscriber of a named channel.
func (e *Emitter) EmitToChannel(channel, event string, payload any) {
	e.enqueue(event, payload, func(frame []byte) {
		e.hub.deliver(channel, frame)
	})
}

// EmitToIdentity delivers an event to every connection of one identity.
func (e *Emitter) EmitToIdentity(identityID, event string, payload any) {
	e.enqueue(event, payload, func(frame []byte) {
		e.hub.deliverToIdentity(identityID, frame)
	})
}

// EmitBroadcast delivers an event to all connections regardless of channels.
func (e *Emitter) EmitBroadcast(event string, payload any) {
	e.enqueue(event, payload, func(frame []byte) {
		e.hub.deliverAll(frame)
	})
}

// enqueue marshals and queues one emission. Emission sits downstream of a
// committed mutation, so a notification fault must never propagate into the
// caller's control flow: a missing hub, a marshal failure, a full queue or a
// closed emitter all log and drop.
func (e *Emitter) enqueue(event string, payload any, deliver func([]byte)) {
	if e == nil || e.hub == nil {
		if e != nil {
			e.logger.Warn().Str("event", event).Msg("Realtime hub not ready, event dropped")
		}
		return
	}

	frame, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		e.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event, dropped")
		return
	}

	// The send must happen under the same lock that Close takes: a select
	// with a default branch does not protect a send on a closed channel.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.logger.Warn().Str("event", event).Msg("Emitter closed, event dropped")
		return
	}

	select {
	case e.queue <- emitJob{event: event, frame: frame, deliver: deliver}:
	default:
		e.logger.Warn().Str("event", event).Msg("Emit queue full, event dropped")
	}
}

func (e *Emitter) drain() {
	for job := range e.queue {
		e.run(job)
	}
}

func (e *Emitter) run(job emitJob) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Any("panic", r).Str("event", job.event).Msg("Emit failed")
		}
	}()
	job.deliver(job.frame)
}
