package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/clock"
	"github.com/hifumi-dev/hifumi/enforce/notify"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	c := DefaultConfig()
	c.PersistBackoff = time.Millisecond
	c.PersistTries = 3
	c.MaxAttempts = 3
	c.Concurrency = 1
	return c
}

func testGormStore(t *testing.T) *GormStore {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	s, err := NewGormStore(db)
	require.NoError(t, err)
	return s
}

// Records which targets were lifted. Lifting twice has no additional effect.
type liftRecorder struct {
	mu      sync.Mutex
	calls   []string
	effects map[string]int
	failFor map[string]error
}

func newLiftRecorder() *liftRecorder {
	return &liftRecorder{effects: make(map[string]int), failFor: make(map[string]error)}
}

func (r *liftRecorder) FailFor(target string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failFor[target] = err
}

func (r *liftRecorder) Execute(ctx context.Context, a *PendingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, a.TargetID)
	if err := r.failFor[a.TargetID]; err != nil {
		return err
	}
	if r.effects[a.TargetID] == 0 {
		r.effects[a.TargetID] = 1
	}
	return nil
}

func (r *liftRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *liftRecorder) Effects(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effects[target]
}

// Wraps a Store, failing selected operations on demand.
type flakyStore struct {
	Store
	failCreate     atomic.Bool
	failTransition atomic.Bool
}

var errStoreDown = errors.New("store unavailable")

func (f *flakyStore) Create(ctx context.Context, a *PendingAction) error {
	if f.failCreate.Load() {
		return errStoreDown
	}
	return f.Store.Create(ctx, a)
}

func (f *flakyStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	if f.failTransition.Load() {
		return false, errStoreDown
	}
	return f.Store.Transition(ctx, id, from, to)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (n *recordingNotifier) Notify(ctx context.Context, nt notify.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, nt)
	return nil
}

func (n *recordingNotifier) Titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, nt := range n.notices {
		out = append(out, nt.Title)
	}
	return out
}

func newTestScheduler(store Store, clk clock.Clock) *Scheduler {
	return NewScheduler(store, clk, nil, testConfig())
}

// Wraps a Store, parking each Create until released.
type blockingStore struct {
	Store
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore(inner Store) *blockingStore {
	return &blockingStore{
		Store:   inner,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingStore) Create(ctx context.Context, a *PendingAction) error {
	b.entered <- struct{}{}
	<-b.release
	return b.Store.Create(ctx, a)
}

// Wraps a Store: the first Create commits but reports failure, like a reply lost on the wire.
type lostReplyStore struct {
	Store
	creates atomic.Int32
}

func (l *lostReplyStore) Create(ctx context.Context, a *PendingAction) error {
	n := l.creates.Add(1)
	if err := l.Store.Create(ctx, a); err != nil {
		return err
	}
	if n == 1 {
		return errStoreDown
	}
	return nil
}
