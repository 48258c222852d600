package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/clock"
)

type MemStore struct {
	Clock clock.Clock

	lk      sync.Mutex
	actions map[string]*PendingAction
}

var _ Store = (*MemStore)(nil)

func NewMemStore(clk clock.Clock) *MemStore {
	return &MemStore{
		Clock:   clock.Or(clk),
		actions: make(map[string]*PendingAction),
	}
}

func (s *MemStore) Create(ctx context.Context, a *PendingAction) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if _, ok := s.actions[a.ID]; ok {
		return fmt.Errorf("action already exists: %s", a.ID)
	}
	cp := *a
	s.actions[a.ID] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*PendingAction, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return false, ErrActionNotFound
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = s.Clock.Now()
	return true, nil
}

func (s *MemStore) RecordFailure(ctx context.Context, id string, attempts int, lastErr string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return ErrActionNotFound
	}
	a.Attempts = attempts
	a.LastError = lastErr
	a.UpdatedAt = s.Clock.Now()
	return nil
}

func (s *MemStore) ListPending(ctx context.Context) ([]*PendingAction, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := []*PendingAction{}
	for _, a := range s.actions {
		if a.Status == StatusPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortByDue(out)
	return out, nil
}

func (s *MemStore) ListRecent(ctx context.Context, limit int) ([]*PendingAction, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]*PendingAction, 0, len(s.actions))
	for _, a := range s.actions {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) PruneTerminal(ctx context.Context, before time.Time) (int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var n int64
	for id, a := range s.actions {
		if a.Status.Terminal() && a.UpdatedAt.Before(before) {
			delete(s.actions, id)
			n++
		}
	}
	return n, nil
}

func sortByDue(l []*PendingAction) {
	sort.Slice(l, func(i, j int) bool {
		if !l[i].Due.Equal(l[j].Due) {
			return l[i].Due.Before(l[j].Due)
		}
		return l[i].ID < l[j].ID
	})
}
