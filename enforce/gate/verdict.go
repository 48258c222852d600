package gate

import (
	"fmt"
	"time"
)

type Kind int

const (
	Allowed Kind = iota
	// Over the rate limit; Warning says how many strikes of the current cycle are used.
	Warned
	// Inside a suppression window until Until.
	Suppressed
	// On the ignored-actors list.
	Ignored
	// Upstream capacity for the capability is exhausted. Not counted against the actor.
	Busy
)

func (k Kind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Warned:
		return "warned"
	case Suppressed:
		return "suppressed"
	case Ignored:
		return "ignored"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Verdict struct {
	Kind Kind
	// Strike within the current cycle, for Warned.
	Warning int
	// Lifetime violation count, when a violation was just recorded.
	Violations int
	Until      time.Time
	// Tokens left after an allowed request.
	RemainingTokens float64
}

func (v Verdict) Allowed() bool {
	return v.Kind == Allowed
}

// Remaining is how long a suppression has left, relative to now.
func (v Verdict) Remaining(now time.Time) time.Duration {
	if v.Kind != Suppressed || !now.Before(v.Until) {
		return 0
	}
	return v.Until.Sub(now)
}
