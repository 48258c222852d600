package actor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// A participant in an enforcement decision: either the requester or the target.
//
// The ID is stable. Names can change on the platform at any time, so they should be read fresh from a Directory rather than held across requests.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Nickname    string `json:"nickname,omitempty"`
}

// Known names for this actor, display name first, without empty or duplicate entries.
func (a Actor) Aliases() []string {
	out := make([]string, 0, 3)
	seen := make(map[string]bool, 3)
	for _, n := range []string{a.DisplayName, a.Nickname, a.Username} {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Name to show in prompts and log lines.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Nickname != "" {
		return a.Nickname
	}
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}

// MatchesExactly is true if query is exactly (case-sensitive) one of the actor's names.
func (a Actor) MatchesExactly(query string) bool {
	for _, n := range a.Aliases() {
		if n == query {
			return true
		}
	}
	return false
}

// MatchesLoosely is true if query is a substring of any of the actor's names, ignoring case and accents.
func (a Actor) MatchesLoosely(query string) bool {
	q := foldName(query)
	if q == "" {
		return false
	}
	for _, n := range a.Aliases() {
		if strings.Contains(foldName(n), q) {
			return true
		}
	}
	return false
}

// Lower-cases and strips combining marks, so "Zoë" and "zoe" compare equal.
func foldName(s string) string {
	// transformers carry state; build a fresh chain per call
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(fold, strings.ToLower(s))
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return strings.ToLower(s)
	}
	return out
}

// Read access to the actors currently present in a community.
//
// Some example implementations of this interface could be:
//   - an adapter over the chat platform's member cache
//   - an in-memory fixture, for tests (MockDirectory)
//   - a caching layer in front of either (CacheDirectory)
type Directory interface {
	LookupID(ctx context.Context, id string) (*Actor, error)
	// Returns every known actor with current names. Implementations must not serve stale names from a cache.
	Members(ctx context.Context) ([]Actor, error)
}

// Indicates that the lookup completed, but no actor with the ID is present.
var ErrActorNotFound = errors.New("actor not found")
