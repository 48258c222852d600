package gate

import (
	"context"
	"testing"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/clock"
	"github.com/hifumi-dev/hifumi/enforce/escalation"
	"github.com/hifumi-dev/hifumi/enforce/setstore"
	"github.com/hifumi-dev/hifumi/enforce/statestore"
	"github.com/hifumi-dev/hifumi/enforce/throttle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testGate(clk clock.Clock) (*Gate, *setstore.MemSetStore) {
	thr := throttle.New(statestore.NewMemStore[throttle.Bucket](), clk, nil)
	thr.Policies[throttle.CapabilityChat] = throttle.Policy{Capacity: 1, RefillPerSecond: 0.01}
	esc := escalation.New(statestore.NewMemStore[escalation.State](), clk, nil)
	sets := setstore.NewMemSetStore()
	return New(sets, thr, esc, clk, nil), sets
}

func TestWarnedThenSuppressed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	clk := clock.NewMock(t0)
	g, _ := testGate(clk)

	v, err := g.Check(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.True(v.Allowed())

	v, err = g.Check(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.Equal(Warned, v.Kind)
	assert.Equal(1, v.Warning)

	v, err = g.Check(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.Equal(Warned, v.Kind)
	assert.Equal(2, v.Warning)

	v, err = g.Check(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.Equal(Suppressed, v.Kind)
	assert.Equal(t0.Add(90*time.Minute), v.Until)
	assert.Equal(90*time.Minute, v.Remaining(clk.Now()))

	// while suppressed: no tokens spent, no more violations
	clk.Advance(time.Hour)
	v, err = g.Check(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.Equal(Suppressed, v.Kind)
	assert.Equal(30*time.Minute, v.Remaining(clk.Now()))
	st, err := g.Escalation.Get(ctx, "111")
	require.NoError(err)
	assert.Equal(3, st.Violations)
	tokens, err := g.Throttle.Peek(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.InDelta(1.0, tokens, 0.0001)

	// window over, bucket refilled meanwhile
	clk.Advance(30 * time.Minute)
	v, err = g.Check(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.True(v.Allowed())
}

func TestIgnoredAndExempt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	clk := clock.NewMock(t0)
	g, sets := testGate(clk)
	sets.Add(setstore.IgnoredActors, "111")
	sets.Add(setstore.ExemptActors, "999")

	for i := 0; i < 5; i++ {
		v, err := g.Check(ctx, "111", throttle.CapabilityChat)
		require.NoError(err)
		assert.Equal(Ignored, v.Kind)

		v, err = g.Check(ctx, "999", throttle.CapabilityChat)
		require.NoError(err)
		assert.Equal(Allowed, v.Kind)
	}

	st, err := g.Escalation.Get(ctx, "111")
	require.NoError(err)
	assert.Zero(st.Violations)
	st, err = g.Escalation.Get(ctx, "999")
	require.NoError(err)
	assert.Zero(st.Violations)
}

func TestUpstreamBusy(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	clk := clock.NewMock(t0)
	g, _ := testGate(clk)
	g.SetUpstreamLimit(throttle.CapabilityChat, rate.Every(time.Minute), 1)

	v, err := g.Check(ctx, "111", throttle.CapabilityChat)
	require.NoError(err)
	assert.True(v.Allowed())

	v, err = g.Check(ctx, "222", throttle.CapabilityChat)
	require.NoError(err)
	assert.Equal(Busy, v.Kind)
	st, err := g.Escalation.Get(ctx, "222")
	require.NoError(err)
	assert.Zero(st.Violations)

	clk.Advance(time.Minute)
	v, err = g.Check(ctx, "333", throttle.CapabilityChat)
	require.NoError(err)
	assert.True(v.Allowed())

	g.SetUpstreamLimit(throttle.CapabilityChat, rate.Inf, 0)
	v, err = g.Check(ctx, "444", throttle.CapabilityChat)
	require.NoError(err)
	assert.True(v.Allowed())
}
