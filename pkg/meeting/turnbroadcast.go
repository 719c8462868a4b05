package meeting

import (
	"sync"

	"github.com/google/uuid"
)

// turnBroadcast lets speak(wait_for_turn=true) park until a meeting's turn
// state changes, without polling the store on a tight loop. Each Broadcast
// closes the current channel (waking everyone selecting on it) and installs
// a fresh one, the same "close to broadcast" idiom the waiter table uses
// for a single waiter, generalized to many.
type turnBroadcast struct {
	mu sync.Mutex
	ch map[uuid.UUID]chan struct{}
}

func newTurnBroadcast() *turnBroadcast {
	return &turnBroadcast{ch: make(map[uuid.UUID]chan struct{})}
}

// Wait returns a channel that closes the next time Broadcast is called for
// this meeting id.
func (b *turnBroadcast) Wait(meetingID uuid.UUID) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.ch[meetingID]
	if !ok {
		ch = make(chan struct{})
		b.ch[meetingID] = ch
	}
	return ch
}

// Broadcast wakes every current waiter for meetingID and clears the slot so
// the next Wait starts fresh.
func (b *turnBroadcast) Broadcast(meetingID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.ch[meetingID]; ok {
		close(ch)
		delete(b.ch, meetingID)
	}
}
