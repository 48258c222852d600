// Time source for the enforcement packages.
//
// Everything that compares against "now" (token refill, suppression windows, action due times)
// takes a Clock instead of calling time.Now directly, so tests can drive time explicitly.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

var _ Clock = System{}

func (System) Now() time.Time {
	return time.Now()
}

// Mock is a manually advanced clock, for use in tests. Safe for concurrent use.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

var _ Clock = (*Mock)(nil)

func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Or returns c, or the wall clock if c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}
