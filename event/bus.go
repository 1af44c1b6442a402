// Package event provides observer-style notifications for pipeline lifecycle,
// task, and flush transitions.
//
// Events carry a stable contract of name plus structured data. Dispatch is an
// implementation detail: every event fans out synchronously to registered
// subscribers, is logged through slog, and is optionally mirrored to NATS for
// remote consumers when a connection is supplied (a nil connection disables
// publishing).
package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is one named notification with a structured payload.
type Event struct {
	Name      string         `json:"name"`
	Component string         `json:"component"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber receives events. Subscribers run synchronously on the
// publisher's goroutine and must not block.
type Subscriber func(Event)

// Bus fans events out to subscribers, logs them, and optionally publishes
// them to NATS subjects of the form <prefix>.<component>.<name>.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *slog.Logger
	nc          *nats.Conn
	prefix      string
}

// NewBus creates a bus. logger may be nil to disable logging; nc may be nil
// to disable NATS publishing.
func NewBus(logger *slog.Logger, nc *nats.Conn) *Bus {
	return &Bus{
		logger: logger,
		nc:     nc,
		prefix: "telempipe.events",
	}
}

// Subscribe registers a subscriber for all events. Subscribers cannot be
// removed; register once at wiring time.
func (b *Bus) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, fn)
	b.mu.Unlock()
}

// Publish emits an event to all subscribers, the logger, and NATS.
func (b *Bus) Publish(component, name string, data map[string]any) {
	if b == nil {
		return
	}

	ev := Event{
		Name:      name,
		Component: component,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}

	if b.logger != nil {
		b.logger.Debug("event", "component", component, "event", name, "data", data)
	}

	b.publishRemote(ev)
}

func (b *Bus) publishRemote(ev Event) {
	nc := b.nc
	if nc == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		if b.logger != nil {
			b.logger.Error("failed to marshal event", "event", ev.Name, "error", err)
		}
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", b.prefix, ev.Component, ev.Name)
	if err := nc.Publish(subject, payload); err != nil {
		if b.logger != nil {
			b.logger.Error("failed to publish event", "subject", subject, "error", err)
		}
	}
}
