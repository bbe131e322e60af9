// Package audit emits fire-and-forget structured audit events for every
// authorization decision and transport call outcome. Emission never blocks
// the call path: when the buffer is full the event is dropped and counted.
package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Event is one audit record. Decision is set for authorization events,
// Outcome for transport call events.
type Event struct {
	RequestID string        `json:"request_id"`
	User      string        `json:"user,omitempty"`
	Action    string        `json:"action,omitempty"`
	Server    string        `json:"server,omitempty"`
	Tool      string        `json:"tool,omitempty"`
	Decision  string        `json:"decision,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	AuditID   string        `json:"audit_id,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Transport string        `json:"transport,omitempty"`
	Duration  time.Duration `json:"duration"`
	// Parameters is the redacted parameter copy; never the originals.
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Emitter drains a bounded buffer to the structured log in its own
// goroutine. The sink's persistence is somebody else's job.
type Emitter struct {
	logger  zerolog.Logger
	events  chan Event
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewEmitter starts the drain goroutine. bufferSize <= 0 uses 256.
func NewEmitter(logger zerolog.Logger, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	e := &Emitter{
		logger: logger.With().Str("component", "audit").Logger(),
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit enqueues an event without blocking. Returns false when the event was
// dropped because the buffer is full or the emitter is closed.
func (e *Emitter) Emit(ev Event) bool {
	select {
	case <-e.done:
		e.dropped.Add(1)
		return false
	default:
	}
	select {
	case e.events <- ev:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Dropped reports how many events were discarded.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Close stops the emitter after flushing whatever is already buffered.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}

func (e *Emitter) drain() {
	for {
		select {
		case ev := <-e.events:
			e.write(ev)
		case <-e.done:
			// Flush what is buffered, then stop.
			for {
				select {
				case ev := <-e.events:
					e.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) write(ev Event) {
	log := e.logger.Info().
		Str("request_id", ev.RequestID).
		Dur("duration", ev.Duration)
	if ev.User != "" {
		log = log.Str("user", ev.User)
	}
	if ev.Action != "" {
		log = log.Str("action", ev.Action)
	}
	if ev.Server != "" {
		log = log.Str("server", ev.Server)
	}
	if ev.Tool != "" {
		log = log.Str("tool", ev.Tool)
	}
	if ev.AuditID != "" {
		log = log.Str("audit_id", ev.AuditID)
	}
	if ev.Transport != "" {
		log = log.Str("transport", ev.Transport)
	}
	if ev.Parameters != nil {
		log = log.Interface("parameters", ev.Parameters)
	}
	switch {
	case ev.Decision != "":
		log.Str("decision", ev.Decision).Str("reason", ev.Reason).Msg("authorization decision")
	default:
		log.Str("outcome", ev.Outcome).Msg("transport call")
	}
}
