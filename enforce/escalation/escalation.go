// Escalating suppression for actors who keep hitting their rate limits.
//
// Every throttle denial is a violation. Every third violation suppresses the actor for 30 minutes times their lifetime violation count, so repeat offenders get longer windows each time. The counter is never reset.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/clock"
	"github.com/hifumi-dev/hifumi/enforce/statestore"
)

const (
	DefaultInterval = 3
	DefaultUnit     = 30 * time.Minute
)

// Per-actor escalation state. SuppressedUntil is only set while a suppression window is active.
type State struct {
	Violations      int        `json:"violations"`
	SuppressedUntil *time.Time `json:"suppressedUntil,omitempty"`
}

func (s State) suppressedAt(now time.Time) bool {
	return s.SuppressedUntil != nil && now.Before(*s.SuppressedUntil)
}

type Outcome struct {
	Suppressed bool
	// Lifetime violation count, after this violation.
	Violations int
	// Position in the current cycle (1 or 2 of 3) when only warned.
	Warning int
	// Window length and end, when suppressed.
	Duration time.Duration
	Until    time.Time
}

type Tracker struct {
	Logger *slog.Logger
	Clock  clock.Clock
	States statestore.Store[State]
	// Every Interval-th violation suppresses.
	Interval int
	// Suppression length per lifetime violation.
	Unit time.Duration
}

func New(states statestore.Store[State], clk clock.Clock, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		Logger:   logger.With("component", "escalation"),
		Clock:    clock.Or(clk),
		States:   states,
		Interval: DefaultInterval,
		Unit:     DefaultUnit,
	}
}

func (t *Tracker) interval() int {
	if t.Interval <= 0 {
		return DefaultInterval
	}
	return t.Interval
}

func (t *Tracker) unit() time.Duration {
	if t.Unit <= 0 {
		return DefaultUnit
	}
	return t.Unit
}

// RecordViolation counts one more violation for the actor and reports whether that starts a suppression window.
//
// If the actor is already suppressed the call changes nothing and reports the active window; callers are expected to check IsSuppressed first.
func (t *Tracker) RecordViolation(ctx context.Context, actorID string) (Outcome, error) {
	now := t.Clock.Now()
	interval := t.interval()
	var out Outcome
	_, err := t.States.Update(ctx, actorID, func(cur State, exists bool) (State, error) {
		if cur.suppressedAt(now) {
			out = Outcome{
				Suppressed: true,
				Violations: cur.Violations,
				Duration:   cur.SuppressedUntil.Sub(now),
				Until:      *cur.SuppressedUntil,
			}
			return cur, nil
		}
		cur.SuppressedUntil = nil
		cur.Violations++
		out = Outcome{Violations: cur.Violations}
		if cur.Violations%interval == 0 {
			d := t.unit() * time.Duration(cur.Violations)
			until := now.Add(d)
			cur.SuppressedUntil = &until
			out.Suppressed = true
			out.Duration = d
			out.Until = until
		} else {
			out.Warning = cur.Violations % interval
		}
		return cur, nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("recording violation: %w", err)
	}

	logger := t.Logger.With("actor", actorID, "violations", out.Violations)
	if out.Suppressed {
		suppressionsStarted.Inc()
		logger.Warn("actor suppressed", "duration", out.Duration, "until", out.Until)
	} else {
		violationsWarned.Inc()
		logger.Info("actor warned", "warning", out.Warning)
	}
	return out, nil
}

// IsSuppressed reports whether the actor is inside a suppression window, and when it ends. An elapsed window is cleared as a side effect; the violation count is kept.
func (t *Tracker) IsSuppressed(ctx context.Context, actorID string) (bool, time.Time, error) {
	now := t.Clock.Now()
	s, ok, err := t.States.Get(ctx, actorID)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("reading escalation state: %w", err)
	}
	if !ok || s.SuppressedUntil == nil {
		return false, time.Time{}, nil
	}
	if s.suppressedAt(now) {
		return true, *s.SuppressedUntil, nil
	}

	var active bool
	var until time.Time
	_, err = t.States.Update(ctx, actorID, func(cur State, exists bool) (State, error) {
		// re-check: a concurrent violation may have opened a new window
		if cur.suppressedAt(now) {
			active = true
			until = *cur.SuppressedUntil
			return cur, nil
		}
		cur.SuppressedUntil = nil
		return cur, nil
	})
	if err != nil {
		return false, time.Time{}, fmt.Errorf("clearing expired suppression: %w", err)
	}
	return active, until, nil
}

// Lift ends an active suppression window early. Lifting an actor who isn't suppressed is a no-op returning false.
func (t *Tracker) Lift(ctx context.Context, actorID string) (bool, error) {
	now := t.Clock.Now()
	var lifted bool
	_, err := t.States.Update(ctx, actorID, func(cur State, exists bool) (State, error) {
		lifted = cur.suppressedAt(now)
		cur.SuppressedUntil = nil
		return cur, nil
	})
	if err != nil {
		return false, fmt.Errorf("lifting suppression: %w", err)
	}
	if lifted {
		t.Logger.Info("suppression lifted", "actor", actorID)
	}
	return lifted, nil
}

// Get returns the actor's current state, with any elapsed window already dropped.
func (t *Tracker) Get(ctx context.Context, actorID string) (State, error) {
	s, _, err := t.States.Get(ctx, actorID)
	if err != nil {
		return State{}, err
	}
	if s.SuppressedUntil != nil && !s.suppressedAt(t.Clock.Now()) {
		s.SuppressedUntil = nil
	}
	return s, nil
}
