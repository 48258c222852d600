// Token-bucket rate limiting per (actor, capability) pair.
//
// Refill is computed lazily from elapsed time at consumption, so there is no background loop, and buckets persisted in a shared store stay correct across restarts.
package throttle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hifumi-dev/hifumi/enforce/clock"
	"github.com/hifumi-dev/hifumi/enforce/statestore"
)

// A named class of rate-limited action, tracked independently per actor.
type Capability string

const (
	// Generating a conversational reply.
	CapabilityChat Capability = "chat"
)

// Used for any capability without an explicit policy: 5 requests of burst, one more every 5 seconds.
var DefaultPolicy = Policy{
	Capacity:        5,
	RefillPerSecond: 0.2,
}

type Decision struct {
	Allowed         bool
	RemainingTokens float64
}

type Throttle struct {
	Logger   *slog.Logger
	Clock    clock.Clock
	Buckets  statestore.Store[Bucket]
	Policies map[Capability]Policy
}

func New(buckets statestore.Store[Bucket], clk clock.Clock, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{
		Logger:   logger.With("component", "throttle"),
		Clock:    clock.Or(clk),
		Buckets:  buckets,
		Policies: map[Capability]Policy{CapabilityChat: DefaultPolicy},
	}
}

func (t *Throttle) Policy(c Capability) Policy {
	if p, ok := t.Policies[c]; ok {
		return p
	}
	return DefaultPolicy
}

func bucketKey(actorID string, c Capability) string {
	return string(c) + "/" + actorID
}

// Consume takes cost tokens from the actor's bucket for the capability, if available. Buckets are created full on first use.
func (t *Throttle) Consume(ctx context.Context, actorID string, c Capability, cost float64) (Decision, error) {
	if cost < 0 {
		return Decision{}, fmt.Errorf("negative token cost: %v", cost)
	}
	policy := t.Policy(c)
	now := t.Clock.Now()

	var allowed bool
	b, err := t.Buckets.Update(ctx, bucketKey(actorID, c), func(cur Bucket, exists bool) (Bucket, error) {
		if !exists {
			cur = policy.Full(now)
		}
		next, ok := policy.Take(cur, now, cost)
		allowed = ok
		return next, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("updating token bucket: %w", err)
	}
	if allowed {
		tokensConsumed.WithLabelValues(string(c)).Add(cost)
	} else {
		requestsDenied.WithLabelValues(string(c)).Inc()
		t.Logger.Debug("token bucket empty", "actor", actorID, "capability", c, "tokens", b.Tokens)
	}
	return Decision{Allowed: allowed, RemainingTokens: b.Tokens}, nil
}

// Peek reports the actor's current token count without consuming anything.
func (t *Throttle) Peek(ctx context.Context, actorID string, c Capability) (float64, error) {
	policy := t.Policy(c)
	b, ok, err := t.Buckets.Get(ctx, bucketKey(actorID, c))
	if err != nil {
		return 0, err
	}
	if !ok {
		return policy.Capacity, nil
	}
	return policy.Refill(b, t.Clock.Now()).Tokens, nil
}
