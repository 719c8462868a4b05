package meeting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// supervisor tracks one background timer per active meeting (spec.md §4.8).
// Arming cancels any prior timer for the same meeting; firing invokes the
// manager's onFire callback, which re-validates state before mutating
// anything (a speak can land between sleep and fire).
type supervisor struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	wg      sync.WaitGroup
	onFire  func(ctx context.Context, meetingID, expectedSpeaker uuid.UUID)
	closing bool
}

func newSupervisor(onFire func(ctx context.Context, meetingID, expectedSpeaker uuid.UUID)) *supervisor {
	return &supervisor{timers: make(map[uuid.UUID]*time.Timer), onFire: onFire}
}

// Arm cancels any prior timer for meetingID and, if duration is positive,
// starts a new one that invokes onFire after it elapses (spec.md §4.8
// "arm"). A nil or non-positive duration disarms without scheduling.
func (s *supervisor) Arm(meetingID, speakerID uuid.UUID, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return
	}
	if t, ok := s.timers[meetingID]; ok {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, meetingID)
	}
	if duration <= 0 {
		return
	}

	s.wg.Add(1)
	s.timers[meetingID] = time.AfterFunc(duration, func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("turn-timeout supervisor panicked", "meeting_id", meetingID, "panic", r)
			}
		}()
		s.onFire(context.Background(), meetingID, speakerID)
	})
}

// Cancel stops the timer for meetingID, if any, without scheduling a
// replacement. Used by end_meeting and leave_meeting's own advancement,
// which re-arms separately (spec.md §4.7).
func (s *supervisor) Cancel(meetingID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[meetingID]; ok {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, meetingID)
	}
}

// Shutdown cancels every outstanding timer and awaits any already-firing
// callbacks (spec.md §4.8 "Shutdown: cancel all timers, await their
// completion").
func (s *supervisor) Shutdown() {
	s.mu.Lock()
	s.closing = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
