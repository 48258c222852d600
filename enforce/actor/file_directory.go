package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Directory backed by a JSON file holding an array of actors. Reload re-reads the file, so names stay as fresh as the export feeding it.
type FileDirectory struct {
	Path string

	mu     sync.RWMutex
	actors map[string]Actor
}

var _ Directory = (*FileDirectory)(nil)

func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{Path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FileDirectory) Reload() error {
	raw, err := os.ReadFile(d.Path)
	if err != nil {
		return err
	}
	var l []Actor
	if err := json.Unmarshal(raw, &l); err != nil {
		return fmt.Errorf("parsing member list %s: %w", d.Path, err)
	}
	m := make(map[string]Actor, len(l))
	for _, a := range l {
		if a.ID == "" {
			return fmt.Errorf("member list %s: entry without id", d.Path)
		}
		m[a.ID] = a
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors = m
	return nil
}

func (d *FileDirectory) LookupID(ctx context.Context, id string) (*Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actors[id]
	if !ok {
		return nil, ErrActorNotFound
	}
	return &a, nil
}

func (d *FileDirectory) Members(ctx context.Context) ([]Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Actor, 0, len(d.actors))
	for _, a := range d.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
