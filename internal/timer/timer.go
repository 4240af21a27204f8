// Package timer schedules the deadline events that drive the worker state
// machine: check-alive, check-shutdown and check-terminated.
package timer

import (
	"sync"
	"time"
)

// Kind tags the deadline a scheduled event represents.
type Kind int

const (
	CheckAlive Kind = iota
	CheckShutdown
	CheckTerminated
)

func (k Kind) String() string {
	switch k {
	case CheckAlive:
		return "check-alive"
	case CheckShutdown:
		return "check-shutdown"
	case CheckTerminated:
		return "check-terminated"
	default:
		return "unknown"
	}
}

// Event is delivered to the supervisor loop once its delay elapses. A late
// delivery whose Pid no longer refers to a live record is tolerated by the
// consumer, not by this package.
type Event struct {
	Kind Kind
	Pid  int
}

// Guard cancels a single scheduled Event. Dropping or replacing a Guard
// without calling Cancel leaves the underlying timer running; callers that
// care about suppressing delivery must call Cancel explicitly.
type Guard struct {
	timer *time.Timer
}

// Cancel stops the pending event from firing. Best-effort: if the event has
// already fired, Cancel has no effect and the delivered Event must be
// tolerated by the receiver.
func (g *Guard) Cancel() {
	if g == nil || g.timer == nil {
		return
	}
	g.timer.Stop()
}

// Service is a background scheduler. Its only externally visible effect is
// delivering Events on the channel returned by Events.
type Service struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// New constructs a Timer Service with a reasonably buffered event channel so
// a burst of simultaneous deadlines (e.g. a rolling restart of many workers)
// never blocks the goroutines that fire them.
func New() *Service {
	return &Service{
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
}

// Events returns the channel the supervisor loop selects on.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Schedule arranges for an Event carrying kind and pid to be delivered after
// delay elapses, and returns a Guard that can cancel it. Scheduling a new
// timer for the same worker does not automatically cancel a previous one;
// callers (Worker Records) are responsible for canceling the guard they are
// about to replace, enforcing "at most one deadline per worker".
//
// The delivery select races the send against done rather than taking a lock
// around it, so a full events channel during Stop can never deadlock the
// callback against Stop itself; an event that loses the race is dropped.
func (s *Service) Schedule(delay time.Duration, kind Kind, pid int) *Guard {
	g := &Guard{}
	g.timer = time.AfterFunc(delay, func() {
		// Check done on its own first: when both cases below are ready,
		// select picks one at random, which would let a stopped Service
		// still deliver.
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.events <- Event{Kind: kind, Pid: pid}:
		case <-s.done:
		}
	})
	return g
}

// Stop signals every in-flight and future Schedule callback to give up
// instead of delivering. Once stopped the Service delivers no further
// events. Safe to call more than once.
func (s *Service) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
}
