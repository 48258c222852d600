// Admission check for rate-limited capabilities.
//
// Check runs, in order: the ignored-actors set, the exempt-actors set, the suppression pre-check, the actor's token bucket (recording a violation on denial), and finally the global upstream rate for the capability.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hifumi-dev/hifumi/enforce/clock"
	"github.com/hifumi-dev/hifumi/enforce/escalation"
	"github.com/hifumi-dev/hifumi/enforce/setstore"
	"github.com/hifumi-dev/hifumi/enforce/throttle"

	"golang.org/x/time/rate"
)

type Gate struct {
	Logger     *slog.Logger
	Clock      clock.Clock
	Sets       setstore.SetStore
	Throttle   *throttle.Throttle
	Escalation *escalation.Tracker

	// Global call-rate limits per capability, shared by all actors. Capabilities without an entry are unlimited.
	upstreamLk sync.Mutex
	upstream   map[throttle.Capability]*rate.Limiter
}

func New(sets setstore.SetStore, thr *throttle.Throttle, esc *escalation.Tracker, clk clock.Clock, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		Logger:     logger.With("component", "gate"),
		Clock:      clock.Or(clk),
		Sets:       sets,
		Throttle:   thr,
		Escalation: esc,
		upstream:   make(map[throttle.Capability]*rate.Limiter),
	}
}

// SetUpstreamLimit caps the combined rate of allowed requests for a capability, across all actors. A limit of rate.Inf removes the cap.
func (g *Gate) SetUpstreamLimit(c throttle.Capability, limit rate.Limit, burst int) {
	g.upstreamLk.Lock()
	defer g.upstreamLk.Unlock()
	if limit == rate.Inf {
		delete(g.upstream, c)
		return
	}
	if burst < 1 {
		burst = 1
	}
	g.upstream[c] = rate.NewLimiter(limit, burst)
}

func (g *Gate) upstreamLimiter(c throttle.Capability) *rate.Limiter {
	g.upstreamLk.Lock()
	defer g.upstreamLk.Unlock()
	return g.upstream[c]
}

// Check decides whether actorID may use capability c right now. An allowed request has already been charged against the actor's bucket.
func (g *Gate) Check(ctx context.Context, actorID string, c throttle.Capability) (Verdict, error) {
	logger := g.Logger.With("actor", actorID, "capability", c)

	if g.Sets != nil {
		ignored, err := g.Sets.InSet(ctx, setstore.IgnoredActors, actorID)
		if err != nil {
			return Verdict{}, fmt.Errorf("checking ignored actors: %w", err)
		}
		if ignored {
			return g.verdict(c, Verdict{Kind: Ignored}), nil
		}
		exempt, err := g.Sets.InSet(ctx, setstore.ExemptActors, actorID)
		if err != nil {
			return Verdict{}, fmt.Errorf("checking exempt actors: %w", err)
		}
		if exempt {
			return g.checkUpstream(c, Verdict{Kind: Allowed}), nil
		}
	}

	suppressed, until, err := g.Escalation.IsSuppressed(ctx, actorID)
	if err != nil {
		return Verdict{}, err
	}
	if suppressed {
		return g.verdict(c, Verdict{Kind: Suppressed, Until: until}), nil
	}

	d, err := g.Throttle.Consume(ctx, actorID, c, 1)
	if err != nil {
		return Verdict{}, err
	}
	if !d.Allowed {
		out, err := g.Escalation.RecordViolation(ctx, actorID)
		if err != nil {
			return Verdict{}, err
		}
		if out.Suppressed {
			logger.Warn("throttle violation started suppression", "violations", out.Violations, "until", out.Until)
			return g.verdict(c, Verdict{Kind: Suppressed, Until: out.Until, Violations: out.Violations}), nil
		}
		return g.verdict(c, Verdict{Kind: Warned, Warning: out.Warning, Violations: out.Violations}), nil
	}

	return g.checkUpstream(c, Verdict{Kind: Allowed, RemainingTokens: d.RemainingTokens}), nil
}

func (g *Gate) checkUpstream(c throttle.Capability, v Verdict) Verdict {
	if lim := g.upstreamLimiter(c); lim != nil && !lim.AllowN(g.Clock.Now(), 1) {
		g.Logger.Info("upstream rate exhausted", "capability", c)
		return g.verdict(c, Verdict{Kind: Busy})
	}
	return g.verdict(c, v)
}

func (g *Gate) verdict(c throttle.Capability, v Verdict) Verdict {
	verdictCount.WithLabelValues(string(c), v.Kind.String()).Inc()
	return v
}
