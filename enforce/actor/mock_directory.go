package actor

import (
	"context"
	"sort"
	"sync"
)

// A fake actor directory, for use in tests
type MockDirectory struct {
	mu     *sync.RWMutex
	Actors map[string]Actor
}

var _ Directory = (*MockDirectory)(nil)

func NewMockDirectory() MockDirectory {
	return MockDirectory{
		mu:     &sync.RWMutex{},
		Actors: make(map[string]Actor),
	}
}

func (d *MockDirectory) Insert(a Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Actors[a.ID] = a
}

func (d *MockDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Actors, id)
}

func (d *MockDirectory) LookupID(ctx context.Context, id string) (*Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.Actors[id]
	if !ok {
		return nil, ErrActorNotFound
	}
	return &a, nil
}

// Members are returned ordered by ID, so results are stable across calls.
func (d *MockDirectory) Members(ctx context.Context) ([]Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Actor, 0, len(d.Actors))
	for _, a := range d.Actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
