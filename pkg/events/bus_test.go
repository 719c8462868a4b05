package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	meetingID := uuid.New()

	var mu sync.Mutex
	received := make([]string, 0, 2)
	wg := sync.WaitGroup{}
	wg.Add(2)

	bus.Subscribe(MeetingStarted, "a", func(ev Event) {
		defer wg.Done()
		mu.Lock()
		received = append(received, "a")
		mu.Unlock()
	})
	bus.Subscribe(MeetingStarted, "b", func(ev Event) {
		defer wg.Done()
		mu.Lock()
		received = append(received, "b")
		mu.Unlock()
	})

	bus.Emit(Event{MeetingID: meetingID, Type: MeetingStarted, Data: MeetingStartedData{}})

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, received)
}

func TestBus_EmitOnlyNotifiesMatchingType(t *testing.T) {
	bus := NewBus(nil)

	called := make(chan struct{}, 1)
	bus.Subscribe(MeetingEnded, "only-ended", func(ev Event) {
		called <- struct{}{}
	})

	bus.Emit(Event{Type: MeetingStarted, Data: MeetingStartedData{}})

	select {
	case <-called:
		t.Fatal("subscriber for MeetingEnded should not have been invoked for MeetingStarted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_PanickingSubscriberDoesNotBlockPeers(t *testing.T) {
	bus := NewBus(nil)

	peerCalled := make(chan struct{})
	bus.Subscribe(MeetingStarted, "panics", func(ev Event) {
		panic("subscriber exploded")
	})
	bus.Subscribe(MeetingStarted, "peer", func(ev Event) {
		close(peerCalled)
	})

	bus.Emit(Event{Type: MeetingStarted, Data: MeetingStartedData{}})

	select {
	case <-peerCalled:
	case <-time.After(time.Second):
		t.Fatal("peer subscriber was never invoked after sibling panicked")
	}
}

func TestBus_EmitStampsTimestampWhenZero(t *testing.T) {
	bus := NewBus(nil)

	done := make(chan Event, 1)
	bus.Subscribe(MeetingStarted, "stamp", func(ev Event) {
		done <- ev
	})

	bus.Emit(Event{Type: MeetingStarted})

	select {
	case ev := <-done:
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber never invoked")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for subscribers")
	}
}

func TestBus_EmitWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewBus(nil)
	require.NotNil(t, bus)
	// Emitting with no subscribers registered must not panic or block.
	bus.Emit(Event{Type: ErrorOccurred, Data: ErrorOccurredData{}})
}
