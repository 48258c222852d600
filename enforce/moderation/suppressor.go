package moderation

import (
	"context"
	"slices"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/flagstore"
)

// Applies and lifts mutes on the chat platform. Lift must be idempotent.
type Suppressor interface {
	Apply(ctx context.Context, targetID string, until time.Time, reason string) error
	Lift(ctx context.Context, targetID string) error
	IsApplied(ctx context.Context, targetID string) (bool, error)
}

const MutedFlag = "muted"

// Tracks mutes as a single flag on the actor. Platform adapters read the flag to drop muted actors' messages.
//
// The flag carries no expiry; overlapping mutes are reconciled by the reversal executor, which leaves the flag in place while a later reversal for the target is pending.
type FlagSuppressor struct {
	Flags flagstore.FlagStore
}

var _ Suppressor = (*FlagSuppressor)(nil)

func (f *FlagSuppressor) Apply(ctx context.Context, targetID string, until time.Time, reason string) error {
	return f.Flags.Add(ctx, targetID, []string{MutedFlag})
}

func (f *FlagSuppressor) Lift(ctx context.Context, targetID string) error {
	return f.Flags.Remove(ctx, targetID, []string{MutedFlag})
}

func (f *FlagSuppressor) IsApplied(ctx context.Context, targetID string) (bool, error) {
	flags, err := f.Flags.Get(ctx, targetID)
	if err != nil {
		return false, err
	}
	return slices.Contains(flags, MutedFlag), nil
}
