package events

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishDeliversToSpecificSubscribers(t *testing.T) {
	t.Parallel()

	bus := New(WithLogger(&captureLogger{}))

	phaseEvents := make(chan Event, 1)
	concludeEvents := make(chan Event, 1)

	bus.Subscribe(EventTypePhaseTransition, func(event Event) {
		phaseEvents <- event
	})
	bus.Subscribe(EventTypeCampaignConcluded, func(event Event) {
		concludeEvents <- event
	})

	bus.Publish(Event{
		Type:       EventTypePhaseTransition,
		CampaignID: "c-1",
		Phase:      "negotiation",
		Severity:   SeverityInfo,
	})

	select {
	case got := <-phaseEvents:
		if got.Type != EventTypePhaseTransition {
			t.Fatalf("received type = %q, want %q", got.Type, EventTypePhaseTransition)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for phase subscriber event")
	}

	select {
	case got := <-concludeEvents:
		t.Fatalf("unexpected conclusion event delivered: %#v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEveryEvent(t *testing.T) {
	t.Parallel()

	bus := New(WithLogger(&captureLogger{}))
	all := make(chan Event, 2)

	bus.SubscribeAll(func(event Event) {
		all <- event
	})

	bus.Publish(Event{
		Type:       EventTypeCampaignStarted,
		CampaignID: "c-1",
		Severity:   SeverityInfo,
	})
	bus.Publish(Event{
		Type:       EventTypeCollaboratorFailure,
		CampaignID: "c-1",
		Severity:   SeverityWarn,
	})

	gotFirst := waitForEvent(t, all)
	gotSecond := waitForEvent(t, all)
	got := []string{gotFirst.Type, gotSecond.Type}

	if !containsType(got, EventTypeCampaignStarted) {
		t.Fatalf("wildcard subscriber missing %q event; got %v", EventTypeCampaignStarted, got)
	}
	if !containsType(got, EventTypeCollaboratorFailure) {
		t.Fatalf("wildcard subscriber missing %q event; got %v", EventTypeCollaboratorFailure, got)
	}
}

func TestPublishDropsWhenSubscriberBufferIsFullAndReturnsQuickly(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{}
	bus := New(WithBufferSize(1), WithLogger(logger))

	started := make(chan struct{}, 1)
	unblock := make(chan struct{})

	bus.Subscribe(EventTypeActionExecuted, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-unblock
	})

	baseEvent := Event{
		Type:       EventTypeActionExecuted,
		CampaignID: "c-42",
		Phase:      "negotiation",
		Severity:   SeverityWarn,
	}

	bus.Publish(baseEvent)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler to block")
	}

	bus.Publish(baseEvent)

	start := time.Now()
	bus.Publish(baseEvent)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("publish blocked for %s; expected non-blocking behavior", elapsed)
	}

	close(unblock)

	if !logger.contains("dropping event") {
		t.Fatalf("expected drop warning log, got %v", logger.messages())
	}
}

func TestPublishPopulatesTimestampAndPreservesMetadata(t *testing.T) {
	t.Parallel()

	bus := New(WithLogger(&captureLogger{}))
	ch := make(chan Event, 1)

	bus.Subscribe(EventTypeCollaboratorFailure, func(event Event) {
		ch <- event
	})

	bus.Publish(Event{
		Type:       EventTypeCollaboratorFailure,
		CampaignID: "c-7",
		Phase:      "opening",
		Payload:    CollaboratorFailure{Collaborator: "generator", Err: "timeout"},
		Severity:   SeverityWarn,
	})

	got := waitForEvent(t, ch)
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp is zero; expected publish to populate timestamp")
	}
	if got.CampaignID != "c-7" {
		t.Fatalf("campaign id = %q, want %q", got.CampaignID, "c-7")
	}
	if got.Phase != "opening" {
		t.Fatalf("phase = %q, want %q", got.Phase, "opening")
	}
	failure, ok := got.Payload.(CollaboratorFailure)
	if !ok {
		t.Fatalf("payload type = %T, want CollaboratorFailure", got.Payload)
	}
	if failure.Collaborator != "generator" || failure.Err != "timeout" {
		t.Fatalf("payload = %#v", failure)
	}
}

func TestBusSupportsConcurrentPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	bus := New(WithBufferSize(5000), WithLogger(&captureLogger{}))
	const publisherCount = 20
	const eventsPerPublisher = 100

	var received atomic.Int64
	expectedFromWildcard := int64(publisherCount * eventsPerPublisher)

	bus.SubscribeAll(func(Event) {
		received.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < publisherCount; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerPublisher; j++ {
				bus.Publish(Event{
					Type:       EventTypeActionExecuted,
					CampaignID: "c-concurrent",
					Payload:    map[string]int{"publisher": i, "index": j},
					Severity:   SeverityInfo,
				})
			}
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Subscribe(EventTypeActionExecuted, func(Event) {})
		}()
	}

	wg.Wait()
	waitForCount(t, &received, expectedFromWildcard, 2*time.Second)
}

func containsType(types []string, want string) bool {
	for _, eventType := range types {
		if eventType == want {
			return true
		}
	}
	return false
}

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()

	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitForCount(t *testing.T, got *atomic.Int64, want int64, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got.Load() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("received count = %d, want at least %d", got.Load(), want)
}

type captureLogger struct {
	mu   sync.Mutex
	logs []string
}

func (c *captureLogger) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs = append(c.logs, fmt.Sprintf(format, args...))
}

func (c *captureLogger) contains(fragment string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, message := range c.logs {
		if strings.Contains(message, fragment) {
			return true
		}
	}
	return false
}

func (c *captureLogger) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

func TestCloseStopsDeliveryAndNewSubscriptions(t *testing.T) {
	t.Parallel()

	bus := New(WithLogger(&captureLogger{}))
	received := make(chan Event, 4)
	bus.Subscribe(EventTypeActionExecuted, func(event Event) {
		received <- event
	})

	bus.Publish(Event{Type: EventTypeActionExecuted, CampaignID: "c-1"})
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pre-close event")
	}

	bus.Close()
	bus.Close()

	bus.Publish(Event{Type: EventTypeActionExecuted, CampaignID: "c-1"})
	bus.Subscribe(EventTypeActionExecuted, func(event Event) {
		received <- event
	})
	bus.Publish(Event{Type: EventTypeActionExecuted, CampaignID: "c-1"})

	select {
	case got := <-received:
		t.Fatalf("event delivered after close: %#v", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCloseDrainsBufferedEvents(t *testing.T) {
	t.Parallel()

	bus := New(WithLogger(&captureLogger{}))
	gate := make(chan struct{})
	var handled atomic.Int64
	bus.Subscribe(EventTypeActionExecuted, func(Event) {
		<-gate
		handled.Add(1)
	})

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: EventTypeActionExecuted, CampaignID: "c-1"})
	}
	bus.Close()
	close(gate)

	waitForCount(t, &handled, 3, 2*time.Second)
}

func TestCloseIsSafeUnderConcurrentPublish(t *testing.T) {
	t.Parallel()

	bus := New(WithLogger(&captureLogger{}))
	bus.SubscribeAll(func(Event) {})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Publish(Event{Type: EventTypePhaseTransition, CampaignID: "c-1"})
			}
		}()
	}
	bus.Close()
	wg.Wait()
}
