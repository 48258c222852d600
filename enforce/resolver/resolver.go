// Turns free-text input naming a person into a concrete actor.
//
// Matching order, first success wins: an exact platform ID, a user mention, then a case-insensitive substring match against every member's names. Anything short of a single case-exact match is confirmed interactively with the requester.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/actor"
	"github.com/hifumi-dev/hifumi/enforce/confirm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("hifumi/resolver")

const (
	// Platform IDs are all-digit strings of exactly this length.
	IDLength = 18
	// How long the requester has to answer a confirmation prompt.
	ConfirmTimeout = 30 * time.Second
	// Numbered prompts never list more than this many actors.
	MaxCandidates = 10
)

var (
	ErrNotFound  = errors.New("no matching actor")
	ErrCancelled = errors.New("resolution cancelled")
	ErrAmbiguous = errors.New("query matches more than one actor")
)

var (
	userMentionRegex    = regexp.MustCompile(`<@!?(\d+)>`)
	channelMentionRegex = regexp.MustCompile(`<#\d+>`)
)

type Options struct {
	// Confirm even a single case-exact substring match.
	RequireConfirmation bool
	// Offer a numbered choice when several actors match. Otherwise several matches fail with ErrAmbiguous, unless exactly one of them is a case-exact match.
	AllowAmbiguous bool
}

type Request struct {
	Query string
	// User IDs the platform parsed out of the message as mentions, in order.
	Mentions []string
	// Actor who issued the query; the only one whose confirmation replies count.
	Requester string
	// Invoking context for the confirmation session (eg, channel ID).
	Scope   string
	Channel confirm.Channel
}

type Resolver struct {
	Directory      actor.Directory
	Asker          *confirm.Asker
	Logger         *slog.Logger
	ConfirmTimeout time.Duration
	MaxCandidates  int
}

func New(dir actor.Directory, asker *confirm.Asker, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		Directory:      dir,
		Asker:          asker,
		Logger:         logger.With("component", "resolver"),
		ConfirmTimeout: ConfirmTimeout,
		MaxCandidates:  MaxCandidates,
	}
}

// Resolve returns the actor the query refers to, or ErrNotFound, ErrCancelled, or ErrAmbiguous. Other errors come from the directory or the confirmation transport.
func (r *Resolver) Resolve(ctx context.Context, req Request, opts Options) (*actor.Actor, error) {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()

	a, how, err := r.resolve(ctx, req, opts)
	span.SetAttributes(attribute.String("method", how))
	switch {
	case errors.Is(err, ErrNotFound):
		resolutions.WithLabelValues("not-found").Inc()
	case errors.Is(err, ErrCancelled):
		resolutions.WithLabelValues("cancelled").Inc()
	case errors.Is(err, ErrAmbiguous):
		resolutions.WithLabelValues("ambiguous").Inc()
	case err != nil:
		resolutions.WithLabelValues("error").Inc()
		span.RecordError(err)
	default:
		resolutions.WithLabelValues(how).Inc()
		r.Logger.Debug("resolved actor", "query", req.Query, "actor", a.ID, "method", how)
	}
	return a, err
}

func (r *Resolver) resolve(ctx context.Context, req Request, opts Options) (*actor.Actor, string, error) {
	query := strings.TrimSpace(req.Query)

	if isPlatformID(query) {
		a, err := r.lookup(ctx, query)
		return a, "id", err
	}

	if id := mentionedID(query, req.Mentions); id != "" {
		a, err := r.lookup(ctx, id)
		return a, "mention", err
	}

	// a channel reference is never a person
	if channelMentionRegex.MatchString(query) || query == "" {
		return nil, "none", ErrNotFound
	}

	members, err := r.Directory.Members(ctx)
	if err != nil {
		return nil, "none", fmt.Errorf("listing members: %w", err)
	}
	candidates := matchCandidates(members, query)

	switch {
	case len(candidates) == 0:
		return nil, "none", ErrNotFound
	case len(candidates) > 1 && !opts.AllowAmbiguous:
		exact := exactMatches(candidates, query)
		if len(exact) != 1 {
			return nil, "none", fmt.Errorf("%w: %d candidates for %q", ErrAmbiguous, len(candidates), query)
		}
		candidates = exact
	}

	if len(candidates) == 1 {
		target := candidates[0]
		if target.MatchesExactly(query) && !opts.RequireConfirmation {
			return &target, "exact", nil
		}
		res, err := r.ask(ctx, req, confirm.Prompt{
			Text: fmt.Sprintf("Did you mean %s?", describe(target)),
			Kind: confirm.KindYesNo,
		})
		if err != nil {
			return nil, "confirmed", err
		}
		if !res.Affirmative() {
			return nil, "confirmed", ErrCancelled
		}
		return &target, "confirmed", nil
	}

	if len(candidates) > r.maxCandidates() {
		return nil, "none", fmt.Errorf("%w: %d candidates for %q, be more specific", ErrAmbiguous, len(candidates), query)
	}

	choices := make([]confirm.Choice, len(candidates))
	lines := make([]string, len(candidates))
	for i, c := range candidates {
		choices[i] = confirm.Choice{Label: describe(c)}
		lines[i] = fmt.Sprintf("%d. %s", i+1, describe(c))
	}
	res, err := r.ask(ctx, req, confirm.Prompt{
		Text:    fmt.Sprintf("Found %d people matching %q, which one?\n%s", len(candidates), query, strings.Join(lines, "\n")),
		Kind:    confirm.KindNumbered,
		Choices: choices,
	})
	if err != nil {
		return nil, "chosen", err
	}
	if res.Outcome != confirm.Answered {
		return nil, "chosen", ErrCancelled
	}
	target := candidates[res.Index]
	return &target, "chosen", nil
}

func (r *Resolver) ask(ctx context.Context, req Request, p confirm.Prompt) (confirm.Result, error) {
	p.Scope = req.Scope
	p.Requester = req.Requester
	p.Timeout = r.ConfirmTimeout
	res, err := r.Asker.Ask(ctx, req.Channel, p)
	if err != nil {
		// an already-open prompt in this scope counts as a declined resolution
		if errors.Is(err, confirm.ErrSessionActive) {
			return res, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return res, err
	}
	return res, nil
}

func (r *Resolver) lookup(ctx context.Context, id string) (*actor.Actor, error) {
	a, err := r.Directory.LookupID(ctx, id)
	if errors.Is(err, actor.ErrActorNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up actor %s: %w", id, err)
	}
	return a, nil
}

func (r *Resolver) maxCandidates() int {
	if r.MaxCandidates <= 0 {
		return MaxCandidates
	}
	return r.MaxCandidates
}

func isPlatformID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func mentionedID(query string, mentions []string) string {
	if len(mentions) > 0 {
		return mentions[0]
	}
	if m := userMentionRegex.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

// Loose matches, ordered by name then ID so numbered prompts are stable.
func matchCandidates(members []actor.Actor, query string) []actor.Actor {
	var out []actor.Actor
	for _, m := range members {
		if m.MatchesLoosely(query) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name()), strings.ToLower(out[j].Name())
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func exactMatches(candidates []actor.Actor, query string) []actor.Actor {
	var out []actor.Actor
	for _, c := range candidates {
		if c.MatchesExactly(query) {
			out = append(out, c)
		}
	}
	return out
}

func describe(a actor.Actor) string {
	if a.Username != "" && a.Username != a.Name() {
		return fmt.Sprintf("%s (%s)", a.Name(), a.Username)
	}
	return a.Name()
}
