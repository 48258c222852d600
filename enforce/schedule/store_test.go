package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreBasics(t *testing.T, store Store) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	mk := func(id, target string, due time.Time) *PendingAction {
		return &PendingAction{
			ID:        id,
			Kind:      KindReversibleSuppression,
			TargetID:  target,
			IssuerID:  "999",
			Due:       due,
			Status:    StatusPending,
			CreatedAt: due.Add(-time.Hour),
			UpdatedAt: due.Add(-time.Hour),
		}
	}
	require.NoError(store.Create(ctx, mk("b", "222", t0.Add(2*time.Minute))))
	require.NoError(store.Create(ctx, mk("a", "111", t0.Add(time.Minute))))
	require.NoError(store.Create(ctx, mk("c", "333", t0.Add(3*time.Minute))))
	assert.Error(store.Create(ctx, mk("a", "111", t0)))

	a, err := store.Get(ctx, "a")
	require.NoError(err)
	assert.Equal("111", a.TargetID)
	assert.True(t0.Add(time.Minute).Equal(a.Due))
	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(err, ErrActionNotFound)

	l, err := store.ListPending(ctx)
	require.NoError(err)
	require.Len(l, 3)
	assert.Equal("a", l[0].ID)
	assert.Equal("b", l[1].ID)
	assert.Equal("c", l[2].ID)

	ok, err := store.Transition(ctx, "a", StatusPending, StatusExecuted)
	require.NoError(err)
	assert.True(ok)
	ok, err = store.Transition(ctx, "a", StatusPending, StatusCancelled)
	require.NoError(err)
	assert.False(ok)
	_, err = store.Transition(ctx, "a", StatusExecuted, StatusPending)
	assert.ErrorIs(err, ErrInvalidTransition)
	_, err = store.Transition(ctx, "nope", StatusPending, StatusCancelled)
	assert.ErrorIs(err, ErrActionNotFound)

	require.NoError(store.RecordFailure(ctx, "b", 2, "timeout"))
	b, err := store.Get(ctx, "b")
	require.NoError(err)
	assert.Equal(2, b.Attempts)
	assert.Equal("timeout", b.LastError)
	assert.ErrorIs(store.RecordFailure(ctx, "nope", 1, "x"), ErrActionNotFound)

	l, err = store.ListPending(ctx)
	require.NoError(err)
	assert.Len(l, 2)

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(err)
	require.Len(recent, 2)
	assert.Equal("c", recent[0].ID)
	assert.Equal("b", recent[1].ID)
}

func TestMemStore(t *testing.T) {
	testStoreBasics(t, NewMemStore(clock.NewMock(t0)))
}

func TestGormStore(t *testing.T) {
	testStoreBasics(t, testGormStore(t))
}

func TestMemStorePrune(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	clk := clock.NewMock(t0)
	store := NewMemStore(clk)
	s := newTestScheduler(store, clk)
	require.NoError(s.RecoverAndRun(ctx, newLiftRecorder()))

	done, err := s.ScheduleReversal(ctx, "111", "999", "", time.Minute)
	require.NoError(err)
	waiting, err := s.ScheduleReversal(ctx, "222", "999", "", 10*24*time.Hour)
	require.NoError(err)
	clk.Advance(time.Minute)
	assert.Equal(1, s.RunDue(ctx))

	clk.Advance(8 * 24 * time.Hour)
	require.NoError(s.prune(ctx))

	_, err = store.Get(ctx, done)
	assert.ErrorIs(err, ErrActionNotFound)
	_, err = store.Get(ctx, waiting)
	assert.NoError(err)
}

func TestGormStorePrune(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	store := testGormStore(t)

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(store.Create(ctx, &PendingAction{
			ID:        id,
			Kind:      KindReversibleSuppression,
			TargetID:  "111",
			Due:       now,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}
	_, err := store.Transition(ctx, "a", StatusPending, StatusExecuted)
	require.NoError(err)
	_, err = store.Transition(ctx, "b", StatusPending, StatusCancelled)
	require.NoError(err)

	n, err := store.PruneTerminal(ctx, now.Add(-time.Hour))
	require.NoError(err)
	assert.Zero(n)

	n, err = store.PruneTerminal(ctx, time.Now().Add(time.Hour))
	require.NoError(err)
	assert.Equal(int64(2), n)

	l, err := store.ListRecent(ctx, 0)
	require.NoError(err)
	require.Len(l, 1)
	assert.Equal("c", l[0].ID)
}

func TestGormRecoverAfterCrash(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	clk := clock.NewMock(t0)
	store := testGormStore(t)

	before := newTestScheduler(store, clk)
	id, err := before.ScheduleReversal(ctx, "111", "999", "muted for spam", 10*time.Minute)
	require.NoError(err)

	clk.Advance(time.Hour)
	rec := newLiftRecorder()
	after := newTestScheduler(store, clk)
	require.NoError(after.RecoverAndRun(ctx, rec))
	require.NoError(after.RecoverAndRun(ctx, rec))
	assert.Equal([]string{"111"}, rec.Calls())

	a, err := store.Get(ctx, id)
	require.NoError(err)
	assert.Equal(StatusExecuted, a.Status)
	assert.Equal("muted for spam", a.Reason)
}
