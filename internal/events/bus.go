package events

import (
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the default per-subscriber channel capacity.
	DefaultBufferSize = 100

	// EventTypeCampaignStarted identifies orchestrator start events.
	EventTypeCampaignStarted = "CampaignStarted"
	// EventTypePhaseTransition identifies phase advance events.
	EventTypePhaseTransition = "PhaseTransition"
	// EventTypeActionExecuted identifies autonomous action events.
	EventTypeActionExecuted = "ActionExecuted"
	// EventTypeCollaboratorFailure identifies degraded-mode collaborator failures.
	EventTypeCollaboratorFailure = "CollaboratorFailure"
	// EventTypeCampaignConcluded identifies campaign conclusion events.
	EventTypeCampaignConcluded = "CampaignConcluded"
)

const (
	// SeverityInfo indicates informational event severity.
	SeverityInfo = "INFO"
	// SeverityWarn indicates warning event severity.
	SeverityWarn = "WARN"
	// SeverityError indicates error event severity.
	SeverityError = "ERROR"
)

// Event is the normalized message delivered through the in-process bus.
// Collaborator failures travel here so callers and tests can observe
// degraded-mode behavior instead of scraping logs.
type Event struct {
	Type       string
	Timestamp  time.Time
	CampaignID string
	Phase      string
	Payload    any
	Severity   string
}

// CollaboratorFailure is the payload attached to degraded-mode events.
type CollaboratorFailure struct {
	Collaborator string
	Err          string
}

// Handler consumes a published event.
type Handler func(Event)

// Logger captures warning logs for dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Bus defines event subscription and publish behavior.
type Bus interface {
	Subscribe(eventType string, handler Handler)
	SubscribeAll(handler Handler)
	Publish(event Event)
	Close()
}

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the log sink used for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus is a thread-safe in-process pub/sub bus backed by buffered
// channels. Slow subscribers drop events rather than stall the
// orchestration cycle.
type InMemoryBus struct {
	mu             sync.RWMutex
	bufferSize     int
	logger         Logger
	typedSubs      map[string][]*subscriber
	wildcardSubs   []*subscriber
	nextSubscriber uint64
	closed         bool
}

type subscriber struct {
	id uint64
	ch chan Event
}

// New creates an in-memory event bus with optional configuration.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize:   DefaultBufferSize,
		logger:       log.Default(),
		typedSubs:    make(map[string][]*subscriber),
		wildcardSubs: make([]*subscriber, 0),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	normalizedType := strings.TrimSpace(eventType)
	if normalizedType == "" || handler == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	sub := b.newSubscriberLocked()
	b.typedSubs[normalizedType] = append(b.typedSubs[normalizedType], sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
}

// SubscribeAll registers a handler that receives every published event.
func (b *InMemoryBus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	sub := b.newSubscriberLocked()
	b.wildcardSubs = append(b.wildcardSubs, sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
}

// Publish delivers an event to typed subscribers and wildcard subscribers.
// Delivery is non-blocking, so holding the read lock here never stalls a
// publisher; it keeps Close from closing a channel mid-send.
func (b *InMemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.typedSubs[strings.TrimSpace(event.Type)] {
		b.deliver(sub, event)
	}
	for _, sub := range b.wildcardSubs {
		b.deliver(sub, event)
	}
}

// Close shuts the bus down. Subscriber channels are closed so their
// consume goroutines exit once drained; later publishes and
// subscriptions become no-ops. Close is idempotent.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.typedSubs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	for _, sub := range b.wildcardSubs {
		close(sub.ch)
	}
	b.typedSubs = make(map[string][]*subscriber)
	b.wildcardSubs = nil
}

func (b *InMemoryBus) deliver(sub *subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		b.logger.Printf(
			"events: dropping event for subscriber=%d type=%s campaign_id=%s phase=%s",
			sub.id,
			event.Type,
			event.CampaignID,
			event.Phase,
		)
	}
}

func (b *InMemoryBus) newSubscriberLocked() *subscriber {
	b.nextSubscriber++
	return &subscriber{
		id: b.nextSubscriber,
		ch: make(chan Event, b.bufferSize),
	}
}

func (b *InMemoryBus) consume(sub *subscriber, handler Handler) {
	for event := range sub.ch {
		handler(event)
	}
}
