// Durable scheduling of timed reversals for enforcement actions.
//
// Actions are written to a Store before Schedule returns, so a crash after acknowledgment cannot lose them. A single timing loop fires due actions through an Executor and marks them executed afterwards. A crash between execution and that status write replays the action on the next start, so executors must be idempotent: execution is at-least-once, with at most one effective application.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/clock"
	"github.com/hifumi-dev/hifumi/enforce/notify"
	"github.com/hifumi-dev/hifumi/internal/ticker"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("hifumi/schedule")

// Executor applies the effect of a due action. It must be idempotent.
type Executor interface {
	Execute(ctx context.Context, a *PendingAction) error
}

type ExecutorFunc func(ctx context.Context, a *PendingAction) error

func (f ExecutorFunc) Execute(ctx context.Context, a *PendingAction) error {
	return f(ctx, a)
}

type Config struct {
	// Upper bound on how long the loop sleeps, and the delay before retrying a failed action.
	PollInterval time.Duration
	// Executor failures tolerated before an action is marked executed anyway.
	MaxAttempts int
	// Bounded retry for store writes.
	PersistTries   uint
	PersistBackoff time.Duration
	// Due actions fired at the same time.
	Concurrency int
	// Executed and cancelled actions are deleted this long after their last update. Zero disables the sweep.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   30 * time.Second,
		MaxAttempts:    5,
		PersistTries:   5,
		PersistBackoff: 100 * time.Millisecond,
		Concurrency:    8,
		Retention:      7 * 24 * time.Hour,
	}
}

type armedAction struct {
	action PendingAction
	// not fired before this time, after a failed attempt
	notBefore time.Time
	// the store never acknowledged this action
	memoryOnly bool
	// a refresh is writing this memory-only action to the store right now
	persisting bool
}

func (a *armedAction) fireAt() time.Time {
	if a.notBefore.After(a.action.Due) {
		return a.notBefore
	}
	return a.action.Due
}

type Scheduler struct {
	Logger   *slog.Logger
	Clock    clock.Clock
	Store    Store
	Notifier notify.Notifier
	Config   Config

	lk       sync.Mutex
	executor Executor
	armed    map[string]*armedAction
	inflight map[string]bool
	// memory-only actions cancelled or executed while a refresh was persisting them
	settled map[string]Status
	wake     chan struct{}
	running  sync.WaitGroup
}

func NewScheduler(store Store, clk clock.Clock, logger *slog.Logger, config Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.PersistTries == 0 {
		config.PersistTries = def.PersistTries
	}
	if config.PersistBackoff <= 0 {
		config.PersistBackoff = def.PersistBackoff
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	return &Scheduler{
		Logger:   logger.With("component", "scheduler"),
		Clock:    clock.Or(clk),
		Store:    store,
		Config:   config,
		armed:    make(map[string]*armedAction),
		inflight: make(map[string]bool),
		settled:  make(map[string]Status),
		wake:     make(chan struct{}, 1),
	}
}

func (s *Scheduler) persist(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Config.PersistBackoff
	b.MaxInterval = 20 * s.Config.PersistBackoff
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if errors.Is(err, ErrActionNotFound) || errors.Is(err, ErrInvalidTransition) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.Config.PersistTries))
	return err
}

// Creates the action, treating one that is already stored as created: a write whose reply was lost may still have committed.
func (s *Scheduler) create(ctx context.Context, a *PendingAction) error {
	err := s.Store.Create(ctx, a)
	if err == nil {
		return nil
	}
	if _, gerr := s.Store.Get(ctx, a.ID); gerr == nil {
		return nil
	}
	return err
}

func (s *Scheduler) notify(ctx context.Context, n notify.Notice) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.Logger.Warn("failed to send operator notice", "title", n.Title, "err", err)
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) arm(a *PendingAction, memoryOnly bool) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if cur, ok := s.armed[a.ID]; ok {
		// keep retry bookkeeping for an action we already know about
		cur.action = *a
		cur.memoryOnly = memoryOnly
	} else {
		s.armed[a.ID] = &armedAction{action: *a, memoryOnly: memoryOnly}
	}
	s.updateGauges()
}

func (s *Scheduler) disarm(id string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.armed, id)
	s.updateGauges()
}

// caller must hold s.lk
func (s *Scheduler) updateGauges() {
	var memOnly int
	for _, a := range s.armed {
		if a.memoryOnly {
			memOnly++
		}
	}
	armedActions.Set(float64(len(s.armed)))
	memoryOnlyActions.Set(float64(memOnly))
}

// Schedule durably records a pending action and arms it.
//
// If the store cannot be written within the retry budget the action is still armed, in memory only, and the returned error wraps ErrPersistence alongside the valid action ID. Memory-only actions are re-persisted on each poll and fire normally unless the process exits first.
func (s *Scheduler) Schedule(ctx context.Context, a *PendingAction) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	now := s.Clock.Now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Kind == "" {
		a.Kind = KindReversibleSuppression
	}
	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	logger := s.Logger.With("action", a.ID, "target", a.TargetID, "due", a.Due)
	err := s.persist(ctx, func() error { return s.create(ctx, a) })
	if err != nil {
		persistFailures.WithLabelValues("create").Inc()
		logger.Error("failed to persist scheduled action, holding in memory", "err", err)
		s.arm(a, true)
		s.kick()
		s.notify(ctx, notify.Notice{
			Level: notify.LevelWarn,
			Title: "Scheduler degraded",
			Body:  "a scheduled reversal could not be persisted and will be lost on restart",
			Fields: []notify.Field{
				{Key: "action", Value: a.ID},
				{Key: "target", Value: a.TargetID},
				{Key: "due", Value: a.Due.Format(time.RFC3339)},
			},
		})
		return a.ID, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.arm(a, false)
	s.kick()
	actionsScheduled.WithLabelValues(string(a.Kind)).Inc()
	logger.Info("scheduled action", "kind", a.Kind)
	return a.ID, nil
}

// ScheduleReversal schedules lifting a suppression of target after d.
func (s *Scheduler) ScheduleReversal(ctx context.Context, targetID, issuerID, reason string, d time.Duration) (string, error) {
	if d <= 0 {
		return "", fmt.Errorf("reversal delay must be positive: %s", d)
	}
	return s.Schedule(ctx, &PendingAction{
		Kind:     KindReversibleSuppression,
		TargetID: targetID,
		IssuerID: issuerID,
		Reason:   reason,
		Due:      s.Clock.Now().Add(d),
	})
}

// Cancel marks a pending action cancelled so it never fires. Returns false if the action already fired, is firing right now, or was already cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	// held across the store write so a concurrent dispatch either sees the cancellation or is already in flight
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.inflight[id] {
		return false, nil
	}
	if a, ok := s.armed[id]; ok && a.memoryOnly {
		delete(s.armed, id)
		if a.persisting {
			s.settled[id] = StatusCancelled
		}
		s.updateGauges()
		actionsCancelled.Inc()
		s.Logger.Info("cancelled in-memory action", "action", id)
		return true, nil
	}

	var ok bool
	err := s.persist(ctx, func() error {
		var err error
		ok, err = s.Store.Transition(ctx, id, StatusPending, StatusCancelled)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrActionNotFound) {
			return false, err
		}
		persistFailures.WithLabelValues("cancel").Inc()
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	delete(s.armed, id)
	s.updateGauges()
	if ok {
		actionsCancelled.Inc()
		s.Logger.Info("cancelled action", "action", id)
	}
	return ok, nil
}

// Get returns an action by ID, including actions held only in memory.
func (s *Scheduler) Get(ctx context.Context, id string) (*PendingAction, error) {
	s.lk.Lock()
	if a, ok := s.armed[id]; ok && a.memoryOnly {
		cp := a.action
		s.lk.Unlock()
		return &cp, nil
	}
	s.lk.Unlock()
	return s.Store.Get(ctx, id)
}

// PendingForTarget lists pending actions against targetID, from the store and from memory-only actions, in due order.
func (s *Scheduler) PendingForTarget(ctx context.Context, targetID string) ([]PendingAction, error) {
	stored, err := s.Store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var out []PendingAction
	seen := make(map[string]bool)
	for _, a := range stored {
		if a.TargetID == targetID {
			out = append(out, *a)
			seen[a.ID] = true
		}
	}
	s.lk.Lock()
	for id, a := range s.armed {
		if a.memoryOnly && a.action.TargetID == targetID && !seen[id] {
			out = append(out, a.action)
		}
	}
	s.lk.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Due.Equal(out[j].Due) {
			return out[i].Due.Before(out[j].Due)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Pending returns a snapshot of armed actions in due order.
func (s *Scheduler) Pending() []PendingAction {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]PendingAction, 0, len(s.armed))
	for _, a := range s.armed {
		out = append(out, a.action)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Due.Equal(out[j].Due) {
			return out[i].Due.Before(out[j].Due)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RecoverAndRun registers the executor, loads every pending action from the store, and fires the ones already past due in due order before returning. Later actions stay armed for Run.
//
// Calling it again re-reads the store; actions executed by the first call are no longer pending and are not replayed.
func (s *Scheduler) RecoverAndRun(ctx context.Context, exec Executor) error {
	s.lk.Lock()
	s.executor = exec
	s.lk.Unlock()

	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("loading pending actions: %w", err)
	}
	// overdue actions fire one at a time, oldest first
	due := s.claimDue(s.Clock.Now())
	for _, a := range due {
		s.fire(ctx, a)
	}
	s.Logger.Info("recovered pending actions", "fired", len(due), "armed", len(s.Pending()))
	return nil
}

// Merges pending actions from the store into the armed set and retries persisting memory-only actions. Picks up changes made by other processes, like cancellations from the admin CLI.
func (s *Scheduler) refresh(ctx context.Context) error {
	listedAt := s.Clock.Now()
	var pending []*PendingAction
	err := s.persist(ctx, func() error {
		var err error
		pending, err = s.Store.ListPending(ctx)
		return err
	})
	if err != nil {
		return err
	}

	inStore := make(map[string]bool, len(pending))
	for _, a := range pending {
		inStore[a.ID] = true
	}

	var retry []*PendingAction
	s.lk.Lock()
	for id, a := range s.armed {
		if a.memoryOnly {
			if inStore[id] {
				// an earlier create committed after all
				a.memoryOnly = false
				continue
			}
			if a.persisting {
				continue
			}
			a.persisting = true
			cp := a.action
			retry = append(retry, &cp)
		} else if !inStore[id] && !s.inflight[id] && a.action.CreatedAt.Before(listedAt) {
			// executed or cancelled elsewhere
			delete(s.armed, id)
		}
	}
	for _, a := range pending {
		if cur, ok := s.armed[a.ID]; ok {
			cur.action = *a
			continue
		}
		s.armed[a.ID] = &armedAction{action: *a}
	}
	s.updateGauges()
	s.lk.Unlock()

	for _, a := range retry {
		err := s.create(ctx, a)

		s.lk.Lock()
		cur, armed := s.armed[a.ID]
		final, settled := s.settled[a.ID]
		delete(s.settled, a.ID)
		if armed {
			cur.persisting = false
			if err == nil {
				cur.memoryOnly = false
			}
		}
		s.updateGauges()
		s.lk.Unlock()

		if err != nil {
			s.Logger.Warn("action still not persisted", "action", a.ID, "err", err)
			continue
		}
		if !armed && settled {
			// cancelled or executed while the write was in flight; the stored row must not stay pending
			terr := s.persist(ctx, func() error {
				_, err := s.Store.Transition(ctx, a.ID, StatusPending, final)
				return err
			})
			if terr != nil {
				persistFailures.WithLabelValues("settle").Inc()
				s.Logger.Error("failed to settle persisted action", "action", a.ID, "status", final, "err", terr)
				continue
			}
			s.Logger.Info("persisted in-memory action as already settled", "action", a.ID, "status", final)
			continue
		}
		s.Logger.Info("persisted in-memory action", "action", a.ID)
	}
	return nil
}

// Collects armed actions due at now, marking them in flight. Sorted by due time.
func (s *Scheduler) claimDue(now time.Time) []*armedAction {
	s.lk.Lock()
	defer s.lk.Unlock()
	var due []*armedAction
	for id, a := range s.armed {
		if s.inflight[id] || a.fireAt().After(now) {
			continue
		}
		s.inflight[id] = true
		cp := *a
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].action.Due.Equal(due[j].action.Due) {
			return due[i].action.Due.Before(due[j].action.Due)
		}
		return due[i].action.ID < due[j].action.ID
	})
	return due
}

func (s *Scheduler) nextWake(now time.Time) time.Time {
	next := now.Add(s.Config.PollInterval)
	s.lk.Lock()
	defer s.lk.Unlock()
	for id, a := range s.armed {
		if s.inflight[id] {
			continue
		}
		if t := a.fireAt(); t.Before(next) {
			next = t
		}
	}
	return next
}

func (s *Scheduler) dispatch(ctx context.Context) (*errgroup.Group, int) {
	due := s.claimDue(s.Clock.Now())
	g := &errgroup.Group{}
	g.SetLimit(s.Config.Concurrency)
	for _, a := range due {
		g.Go(func() error {
			s.fire(ctx, a)
			return nil
		})
	}
	return g, len(due)
}

// RunDue fires every action that is due now and waits for them to finish. Returns how many were fired.
func (s *Scheduler) RunDue(ctx context.Context) int {
	g, n := s.dispatch(ctx)
	_ = g.Wait()
	return n
}

// Run is the timing loop. It wakes at the earliest due time, or after PollInterval, whichever comes first, and fires due actions without waiting for them. Blocks until ctx is done, then waits for in-flight actions.
func (s *Scheduler) Run(ctx context.Context) error {
	s.lk.Lock()
	hasExec := s.executor != nil
	s.lk.Unlock()
	if !hasExec {
		return fmt.Errorf("scheduler started without an executor; call RecoverAndRun first")
	}

	eg, ctx := errgroup.WithContext(ctx)
	if s.Config.Retention > 0 {
		eg.Go(func() error {
			return ticker.Periodically(ctx, s.Config.PollInterval*10, s.prune)
		})
	}
	eg.Go(func() error {
		return s.loop(ctx)
	})
	err := eg.Wait()
	s.running.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context) error {
	lastRefresh := s.Clock.Now()
	for {
		now := s.Clock.Now()
		if now.Sub(lastRefresh) >= s.Config.PollInterval {
			if err := s.refresh(ctx); err != nil {
				s.Logger.Warn("failed to refresh pending actions", "err", err)
			}
			lastRefresh = now
		}

		g, n := s.dispatch(ctx)
		if n > 0 {
			s.running.Add(1)
			go func() {
				defer s.running.Done()
				_ = g.Wait()
			}()
		}

		timer := time.NewTimer(max(s.nextWake(now).Sub(now), time.Millisecond))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) prune(ctx context.Context) error {
	n, err := s.Store.PruneTerminal(ctx, s.Clock.Now().Add(-s.Config.Retention))
	if err != nil {
		// not fatal; try again next tick
		s.Logger.Warn("failed to prune old actions", "err", err)
		return nil
	}
	if n > 0 {
		s.Logger.Info("pruned old actions", "count", n)
	}
	return nil
}

// Runs the executor, recovering panics as errors.
func (s *Scheduler) execute(ctx context.Context, exec Executor, a *PendingAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, a)
}

func (s *Scheduler) fire(ctx context.Context, aa *armedAction) {
	a := &aa.action
	defer func() {
		s.lk.Lock()
		delete(s.inflight, a.ID)
		s.lk.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "fire", trace.WithAttributes(
		attribute.String("action", a.ID),
		attribute.String("kind", string(a.Kind)),
		attribute.String("target", a.TargetID),
	))
	defer span.End()
	logger := s.Logger.With("action", a.ID, "target", a.TargetID)

	// the store is the source of truth for status
	if !aa.memoryOnly {
		cur, err := s.Store.Get(ctx, a.ID)
		if errors.Is(err, ErrActionNotFound) {
			s.disarm(a.ID)
			return
		}
		if err != nil {
			logger.Warn("could not read action status before firing, will retry", "err", err)
			s.retryLater(a.ID)
			return
		}
		if cur.Status != StatusPending {
			logger.Debug("skipping non-pending action", "status", cur.Status)
			s.disarm(a.ID)
			return
		}
		aa.action = *cur
	}

	s.lk.Lock()
	exec := s.executor
	s.lk.Unlock()
	if exec == nil {
		s.retryLater(a.ID)
		return
	}

	start := s.Clock.Now()
	execErr := s.execute(ctx, exec, a)
	if execErr == nil {
		actionsFired.WithLabelValues(string(a.Kind), "ok").Inc()
		actionLag.Observe(start.Sub(a.Due).Seconds())
		s.complete(ctx, aa, logger)
		logger.Info("executed action", "kind", a.Kind)
		return
	}

	span.RecordError(execErr)
	span.SetStatus(codes.Error, execErr.Error())
	attempts := a.Attempts + 1
	actionsFired.WithLabelValues(string(a.Kind), "error").Inc()
	if attempts >= s.Config.MaxAttempts {
		logger.Error("action failed too many times, giving up", "attempts", attempts, "err", execErr)
		if !aa.memoryOnly {
			if err := s.persist(ctx, func() error { return s.Store.RecordFailure(ctx, a.ID, attempts, execErr.Error()) }); err != nil {
				logger.Warn("failed to record action failure", "err", err)
			}
		}
		s.complete(ctx, aa, logger)
		actionsAbandoned.Inc()
		s.notify(ctx, notify.Notice{
			Level: notify.LevelError,
			Title: "Scheduled action abandoned",
			Body:  fmt.Sprintf("gave up after %d attempts: %s", attempts, execErr),
			Fields: []notify.Field{
				{Key: "action", Value: a.ID},
				{Key: "kind", Value: string(a.Kind)},
				{Key: "target", Value: a.TargetID},
			},
		})
		return
	}

	logger.Warn("action failed, will retry", "attempts", attempts, "err", execErr)
	if !aa.memoryOnly {
		if err := s.persist(ctx, func() error { return s.Store.RecordFailure(ctx, a.ID, attempts, execErr.Error()) }); err != nil {
			logger.Warn("failed to record action failure", "err", err)
		}
	}
	s.lk.Lock()
	if cur, ok := s.armed[a.ID]; ok {
		cur.action.Attempts = attempts
		cur.action.LastError = execErr.Error()
		cur.notBefore = s.Clock.Now().Add(s.Config.PollInterval)
	}
	s.lk.Unlock()
}

// Marks the action executed and disarms it. If the status write fails the action stays armed and will be fired again, which the executor tolerates.
func (s *Scheduler) complete(ctx context.Context, aa *armedAction, logger *slog.Logger) {
	if aa.memoryOnly {
		id := aa.action.ID
		s.lk.Lock()
		cur, ok := s.armed[id]
		if !ok || cur.memoryOnly {
			if ok && cur.persisting {
				s.settled[id] = StatusExecuted
			}
			delete(s.armed, id)
			s.updateGauges()
			s.lk.Unlock()
			return
		}
		// persisted while it was firing
		s.lk.Unlock()
	}
	err := s.persist(ctx, func() error {
		_, err := s.Store.Transition(ctx, aa.action.ID, StatusPending, StatusExecuted)
		return err
	})
	if err != nil && !errors.Is(err, ErrActionNotFound) {
		persistFailures.WithLabelValues("complete").Inc()
		logger.Error("failed to mark action executed, it will fire again", "err", err)
		s.retryLater(aa.action.ID)
		return
	}
	s.disarm(aa.action.ID)
}

func (s *Scheduler) retryLater(id string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if cur, ok := s.armed[id]; ok {
		cur.notBefore = s.Clock.Now().Add(s.Config.PollInterval)
	}
}
