package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/clock"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultTimeout is used when a Prompt does not set one.
const DefaultTimeout = 30 * time.Second

type Kind int

const (
	// Reply is yes or no. Result index 0 means yes.
	KindYesNo Kind = iota
	// Reply is a 1-based number picking one of the choices. Result index is 0-based.
	KindNumbered
)

type Choice struct {
	Label string
}

type Prompt struct {
	// Invoking context (eg, channel ID). At most one session per scope.
	Scope string
	// Only replies authored by this actor are considered.
	Requester string
	Text      string
	Kind      Kind
	Choices   []Choice
	// Wall-clock deadline for the reply, enforced through a context timeout. The Asker's Clock only stamps CreatedAt and ExpiresAt.
	Timeout time.Duration
}

type Reply struct {
	AuthorID string
	Content  string
}

// Transport used to ask the question. Implemented by the chat platform adapter.
type Channel interface {
	// Posts the prompt and returns an ID which can be passed to Retract.
	Post(ctx context.Context, p Prompt) (string, error)
	// Blocks until a reply passing accept arrives, or ctx is done (returning ctx.Err()). Replies that do not pass accept are dropped.
	AwaitReply(ctx context.Context, accept func(Reply) bool) (Reply, error)
	Retract(ctx context.Context, promptID string) error
}

type Outcome int

const (
	Answered Outcome = iota
	TimedOut
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Answered:
		return "answered"
	case TimedOut:
		return "timed-out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	// Selected choice; only meaningful when Outcome is Answered.
	Index int
}

// Affirmative is true only for an answered yes/no prompt where the requester said yes.
func (r Result) Affirmative() bool {
	return r.Outcome == Answered && r.Index == 0
}

var ErrSessionActive = errors.New("a confirmation is already pending in this scope")

var ErrInvalidPrompt = errors.New("invalid confirmation prompt")

type Asker struct {
	Logger *slog.Logger
	Clock  clock.Clock

	sessions *xsync.MapOf[string, *Session]
}

func NewAsker(logger *slog.Logger, clk clock.Clock) *Asker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Asker{
		Logger:   logger.With("component", "confirm"),
		Clock:    clock.Or(clk),
		sessions: xsync.NewMapOf[string, *Session](),
	}
}

// Returns the pending session for a scope, if any.
func (a *Asker) Pending(scope string) (*Session, bool) {
	return a.sessions.Load(scope)
}

// Cancel discards the pending session for the scope (eg, because the channel was deleted). The blocked Ask call returns a Cancelled result. Returns false if nothing was pending.
func (a *Asker) Cancel(scope string) bool {
	sess, ok := a.sessions.Load(scope)
	if !ok {
		return false
	}
	settled := sess.settle(StateCancelled)
	sess.cancel()
	return settled
}

// Ask posts the prompt and waits for one reply from the requester.
//
// A timeout is reported as TimedOut, which callers must handle exactly like a "no". Cancellation of ctx, or a concurrent Cancel for the scope, yields Cancelled. An unparseable or out-of-range answer also yields Cancelled. Only transport failures return a non-nil error.
func (a *Asker) Ask(ctx context.Context, ch Channel, p Prompt) (Result, error) {
	if p.Kind == KindNumbered && len(p.Choices) == 0 {
		return Result{Outcome: Cancelled}, fmt.Errorf("%w: numbered prompt without choices", ErrInvalidPrompt)
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}

	actx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	now := a.Clock.Now()
	sess := &Session{
		Scope:     p.Scope,
		Requester: p.Requester,
		Prompt:    p,
		CreatedAt: now,
		ExpiresAt: now.Add(p.Timeout),
		cancel:    cancel,
	}
	if _, loaded := a.sessions.LoadOrStore(p.Scope, sess); loaded {
		return Result{Outcome: Cancelled}, ErrSessionActive
	}
	defer a.discard(sess)

	// the timer settles the session on its own, so a late reply can't win once the deadline passed
	stop := context.AfterFunc(actx, func() {
		sess.settle(stateForContextErr(actx.Err()))
	})
	defer stop()

	logger := a.Logger.With("scope", p.Scope, "requester", p.Requester)
	promptID, err := ch.Post(actx, p)
	if err != nil {
		sess.settle(StateCancelled)
		sessionsSettled.WithLabelValues(Cancelled.String()).Inc()
		return Result{Outcome: Cancelled}, fmt.Errorf("posting confirmation prompt: %w", err)
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer rcancel()
		if err := ch.Retract(rctx, promptID); err != nil {
			logger.Warn("failed to retract confirmation prompt", "err", err, "prompt", promptID)
		}
	}()

	reply, err := ch.AwaitReply(actx, func(r Reply) bool {
		return r.AuthorID == p.Requester
	})
	if err == nil {
		res := parseReply(p, reply.Content)
		to := StateResolved
		if res.Outcome != Answered {
			to = StateCancelled
		}
		if sess.settle(to) {
			logger.Debug("confirmation answered", "outcome", res.Outcome, "index", res.Index)
			sessionsSettled.WithLabelValues(res.Outcome.String()).Inc()
			return res, nil
		}
	}
	if err != nil && actx.Err() == nil {
		// transport failure, not a timeout or cancellation
		sess.settle(StateCancelled)
		sessionsSettled.WithLabelValues(Cancelled.String()).Inc()
		return Result{Outcome: Cancelled}, fmt.Errorf("awaiting confirmation reply: %w", err)
	}
	if actx.Err() != nil {
		sess.settle(stateForContextErr(actx.Err()))
	}

	res := Result{Outcome: Cancelled}
	if sess.State() == StateExpired {
		res.Outcome = TimedOut
	}
	logger.Debug("confirmation not answered", "outcome", res.Outcome)
	sessionsSettled.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

// Removes the session from the registry, unless it has already been replaced.
func (a *Asker) discard(sess *Session) {
	a.sessions.Compute(sess.Scope, func(old *Session, loaded bool) (*Session, bool) {
		if !loaded {
			return nil, true
		}
		return old, old == sess
	})
}

func stateForContextErr(err error) State {
	if errors.Is(err, context.DeadlineExceeded) {
		return StateExpired
	}
	return StateCancelled
}

func parseReply(p Prompt, content string) Result {
	s := strings.ToLower(strings.TrimSpace(content))
	switch p.Kind {
	case KindYesNo:
		switch s {
		case "y", "yes", "yeah", "yep":
			return Result{Outcome: Answered, Index: 0}
		case "n", "no", "nope":
			return Result{Outcome: Answered, Index: 1}
		}
	case KindNumbered:
		n, err := strconv.Atoi(s)
		if err == nil && n >= 1 && n <= len(p.Choices) {
			return Result{Outcome: Answered, Index: n - 1}
		}
	}
	return Result{Outcome: Cancelled}
}
