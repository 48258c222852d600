// The moderation pipeline: resolve who a command names, check the issuer isn't abusing it, apply a suppression, and schedule its reversal.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/actor"
	"github.com/hifumi-dev/hifumi/enforce/clock"
	"github.com/hifumi-dev/hifumi/enforce/confirm"
	"github.com/hifumi-dev/hifumi/enforce/gate"
	"github.com/hifumi-dev/hifumi/enforce/resolver"
	"github.com/hifumi-dev/hifumi/enforce/schedule"
	"github.com/hifumi-dev/hifumi/enforce/throttle"
)

// Capability that issuers of moderation commands are throttled under.
const CapabilityModeration throttle.Capability = "moderation"

var (
	ErrInvalidDuration = errors.New("mute duration must be positive")
	// The issuer is inside a suppression window.
	ErrSuppressed = errors.New("issuer is suppressed")
	// The gate turned the issuer away for some other reason (warned, ignored, busy).
	ErrRejected = errors.New("request rejected")
)

type Service struct {
	Logger     *slog.Logger
	Clock      clock.Clock
	Resolver   *resolver.Resolver
	Scheduler  *schedule.Scheduler
	Suppressor Suppressor
	// Optional; when nil issuers are not rate-limited.
	Gate *gate.Gate
}

func NewService(res *resolver.Resolver, sched *schedule.Scheduler, sup Suppressor, g *gate.Gate, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Logger:     logger.With("component", "moderation"),
		Clock:      clock.Or(clk),
		Resolver:   res,
		Scheduler:  sched,
		Suppressor: sup,
		Gate:       g,
	}
}

type MuteRequest struct {
	IssuerID string
	// Free text naming the target: an ID, a mention, or part of a name.
	Query    string
	Mentions []string
	Duration time.Duration
	Reason   string
	// Where confirmation prompts go.
	Scope   string
	Channel confirm.Channel
	// Confirm even an unambiguous name match.
	RequireConfirmation bool
}

type MuteResult struct {
	Target   *actor.Actor
	ActionID string
	Until    time.Time
	// The reversal is only held in memory; see schedule.ErrPersistence.
	Degraded bool
	// Set when the gate rejected the issuer.
	Verdict gate.Verdict
}

// Mute suppresses the actor named by the request and schedules the automatic unmute.
//
// Resolution failures come back as resolver.ErrNotFound, resolver.ErrCancelled or resolver.ErrAmbiguous; nothing is applied or scheduled in those cases.
func (s *Service) Mute(ctx context.Context, req MuteRequest) (*MuteResult, error) {
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidDuration, req.Duration)
	}
	logger := s.Logger.With("issuer", req.IssuerID, "query", req.Query)

	if s.Gate != nil {
		v, err := s.Gate.Check(ctx, req.IssuerID, CapabilityModeration)
		if err != nil {
			return nil, err
		}
		switch v.Kind {
		case gate.Allowed:
		case gate.Suppressed:
			mutes.WithLabelValues("suppressed").Inc()
			return &MuteResult{Verdict: v}, fmt.Errorf("%w for %s", ErrSuppressed, v.Remaining(s.Clock.Now()).Round(time.Second))
		default:
			mutes.WithLabelValues("rejected").Inc()
			return &MuteResult{Verdict: v}, fmt.Errorf("%w: %s", ErrRejected, v.Kind)
		}
	}

	target, err := s.Resolver.Resolve(ctx, resolver.Request{
		Query:     req.Query,
		Mentions:  req.Mentions,
		Requester: req.IssuerID,
		Scope:     req.Scope,
		Channel:   req.Channel,
	}, resolver.Options{
		RequireConfirmation: req.RequireConfirmation,
		AllowAmbiguous:      true,
	})
	if err != nil {
		mutes.WithLabelValues("unresolved").Inc()
		return nil, err
	}
	logger = logger.With("target", target.ID)

	until := s.Clock.Now().Add(req.Duration)
	if err := s.Suppressor.Apply(ctx, target.ID, until, req.Reason); err != nil {
		mutes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("applying mute: %w", err)
	}

	out := &MuteResult{Target: target, Until: until}
	id, err := s.Scheduler.ScheduleReversal(ctx, target.ID, req.IssuerID, req.Reason, req.Duration)
	switch {
	case errors.Is(err, schedule.ErrPersistence):
		logger.Warn("unmute only scheduled in memory", "action", id, "err", err)
		out.Degraded = true
	case err != nil:
		// don't leave a mute in place that nothing will lift
		if lerr := s.Suppressor.Lift(ctx, target.ID); lerr != nil {
			logger.Error("failed to roll back mute", "err", lerr)
		}
		mutes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("scheduling unmute: %w", err)
	}
	out.ActionID = id

	mutes.WithLabelValues("muted").Inc()
	logger.Info("muted actor", "action", id, "until", until, "reason", req.Reason)
	return out, nil
}

// Unmute lifts a mute early and cancels its scheduled reversal. Returns false if the reversal had already run or been cancelled; the lift is applied either way.
//
// The lift is unconditional: other mutes of the same target are ended too, though their reversals stay scheduled.
func (s *Service) Unmute(ctx context.Context, actionID string) (bool, error) {
	a, err := s.Scheduler.Get(ctx, actionID)
	if err != nil {
		return false, err
	}
	cancelled, err := s.Scheduler.Cancel(ctx, actionID)
	if err != nil {
		return false, err
	}
	if err := s.Suppressor.Lift(ctx, a.TargetID); err != nil {
		return cancelled, fmt.Errorf("lifting mute: %w", err)
	}
	s.Logger.Info("unmuted actor", "action", actionID, "target", a.TargetID, "cancelled", cancelled)
	return cancelled, nil
}

// Executor returns the schedule.Executor that performs due reversals.
func (s *Service) Executor() schedule.Executor {
	return schedule.ExecutorFunc(func(ctx context.Context, a *schedule.PendingAction) error {
		switch a.Kind {
		case schedule.KindReversibleSuppression:
			later, err := s.laterMute(ctx, a)
			if err != nil {
				return err
			}
			if later != nil {
				s.Logger.Info("mute expired, but a longer one is still active", "action", a.ID, "target", a.TargetID, "until", later.Due)
				return nil
			}
			if err := s.Suppressor.Lift(ctx, a.TargetID); err != nil {
				return err
			}
			reversals.Inc()
			s.Logger.Info("mute expired", "action", a.ID, "target", a.TargetID)
			return nil
		default:
			return fmt.Errorf("unsupported action kind: %s", a.Kind)
		}
	})
}

// Returns the pending reversal of the same target due after a, if any.
func (s *Service) laterMute(ctx context.Context, a *schedule.PendingAction) (*schedule.PendingAction, error) {
	pending, err := s.Scheduler.PendingForTarget(ctx, a.TargetID)
	if err != nil {
		return nil, fmt.Errorf("checking other mutes: %w", err)
	}
	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		if p.ID != a.ID && p.Kind == schedule.KindReversibleSuppression && p.Due.After(a.Due) {
			return &p, nil
		}
	}
	return nil, nil
}
