package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agentmesh/coordinator/pkg/metrics"
)

// Subscriber is a user-supplied callback invoked for every Event of the
// Type it registered for (spec.md §6 "Event subscription"). Exceptions are
// not a Go idiom; a panicking subscriber is recovered and logged by the
// bus so it never takes down the emitting goroutine or its peers.
type Subscriber func(Event)

type subscription struct {
	label string
	cb    Subscriber
}

// Bus is a process-wide table of Map<Type, []Subscriber> (spec.md §4.3).
// One Go process (the coordinator) holds exactly one Bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]subscription
	metrics     *metrics.Registry
}

// NewBus creates an empty event bus. m may be nil, in which case
// subscriber latency and panics are not recorded into pkg/metrics.
func NewBus(m *metrics.Registry) *Bus {
	return &Bus{subscribers: make(map[Type][]subscription), metrics: m}
}

// Subscribe registers a callback for a given event type, tagged with a
// label used for metrics/log correlation (e.g. "audit-log", "websocket-
// bridge"). Multiple subscribers per type are allowed, unlike the handler
// registry's one callback per HandlerKind — the event bus is a broadcast,
// not a dispatch.
func (b *Bus) Subscribe(t Type, label string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], subscription{label: label, cb: sub})
}

// Emit constructs an Event and runs every subscriber for its type
// concurrently. Each subscriber runs in its own goroutine and its own
// recover, so a slow or failing subscriber cannot block peers or the
// producer (spec.md §4.3). Emit does not wait for subscribers to finish;
// it returns once they have all been launched.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[ev.Type]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub := sub
		go func() {
			started := time.Now()
			panicked := false
			defer func() {
				if r := recover(); r != nil {
					panicked = true
					slog.Error("event subscriber panicked",
						"event_type", ev.Type, "label", sub.label, "meeting_id", ev.MeetingID, "panic", r)
				}
				if b.metrics != nil {
					b.metrics.RecordBusSubscriber(string(ev.Type), sub.label, time.Since(started), panicked)
				}
			}()
			sub.cb(ev)
		}()
	}
}
