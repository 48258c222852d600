package schedule

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
)

// Executed and cancelled actions never change status again.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

type Kind string

const (
	// Lifting a suppression (eg, un-muting) that was applied when the action was scheduled.
	KindReversibleSuppression Kind = "reversible-suppression"
)

var (
	ErrActionNotFound    = errors.New("pending action not found")
	ErrInvalidTransition = errors.New("invalid action status transition")
	// Wrapped when an action could not be durably recorded. The action is still armed in memory.
	ErrPersistence = errors.New("action persistence failed")
)

// A durably recorded future reversal of an enforcement action.
type PendingAction struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	TargetID string    `json:"targetId"`
	IssuerID string    `json:"issuerId"`
	Reason   string    `json:"reason,omitempty"`
	Due      time.Time `json:"due"`
	Status   Status    `json:"status"`
	// Failed executor attempts so far.
	Attempts  int       `json:"attempts,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (a *PendingAction) Validate() error {
	if a.TargetID == "" {
		return fmt.Errorf("pending action has no target")
	}
	if a.Due.IsZero() {
		return fmt.Errorf("pending action has no due time")
	}
	return nil
}

func (a *PendingAction) String() string {
	return fmt.Sprintf("%s(%s target=%s due=%s status=%s)", a.Kind, a.ID, a.TargetID, a.Due.Format(time.RFC3339), a.Status)
}

func checkTransition(from, to Status) error {
	if from != StatusPending || !to.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
