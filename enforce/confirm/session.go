package confirm

import (
	"context"
	"sync/atomic"
	"time"
)

type State int32

const (
	StatePending State = iota
	StateResolved
	StateExpired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// A single outstanding question. Created and owned by Asker.Ask; settles at most once.
type Session struct {
	Scope     string
	Requester string
	Prompt    Prompt
	CreatedAt time.Time
	ExpiresAt time.Time

	state  atomic.Int32
	cancel context.CancelFunc
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Moves the session out of pending. Returns false if some other event already settled it.
func (s *Session) settle(to State) bool {
	return s.state.CompareAndSwap(int32(StatePending), int32(to))
}
