package schedule

import (
	"context"
	"time"
)

// Durable record of pending actions. The scheduler is the only writer of status.
type Store interface {
	Create(ctx context.Context, a *PendingAction) error
	Get(ctx context.Context, id string) (*PendingAction, error)
	// Moves the action from one status to another, if it is currently in the from status. Returns false (and no error) when the current status differs. Only pending to executed or cancelled is allowed.
	Transition(ctx context.Context, id string, from, to Status) (bool, error)
	// Records a failed execution attempt on a pending action.
	RecordFailure(ctx context.Context, id string, attempts int, lastErr string) error
	// All pending actions, by due time.
	ListPending(ctx context.Context) ([]*PendingAction, error)
	// Most recently created actions of any status, newest first.
	ListRecent(ctx context.Context, limit int) ([]*PendingAction, error)
	// Deletes executed and cancelled actions last updated before the cutoff.
	PruneTerminal(ctx context.Context, before time.Time) (int64, error)
}
