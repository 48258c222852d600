package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/actor"
	"github.com/hifumi-dev/hifumi/enforce/confirm"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requester = "900000000000000001"

var (
	smith  = actor.Actor{ID: "111111111111111111", DisplayName: "Smith", Username: "smith_j"}
	smithy = actor.Actor{ID: "222222222222222222", DisplayName: "Smithy", Username: "smithy99"}
	alice  = actor.Actor{ID: "333333333333333333", DisplayName: "Alice", Username: "alice", Nickname: "Ally"}
)

func resolverFixture(actors ...actor.Actor) (*Resolver, *confirm.MockChannel) {
	dir := actor.NewMockDirectory()
	for _, a := range actors {
		dir.Insert(a)
	}
	r := New(&dir, confirm.NewAsker(nil, nil), nil)
	r.ConfirmTimeout = time.Second
	return r, confirm.NewMockChannel()
}

func request(ch *confirm.MockChannel, query string) Request {
	return Request{
		Query:     query,
		Requester: requester,
		Scope:     "chan1",
		Channel:   ch,
	}
}

func TestResolveByID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r, ch := resolverFixture(smith, smithy)

	a, err := r.Resolve(ctx, request(ch, smith.ID), Options{RequireConfirmation: true, AllowAmbiguous: true})
	assert.NoError(err)
	assert.Equal(smith.ID, a.ID)
	assert.Empty(ch.Prompts())

	_, err = r.Resolve(ctx, request(ch, "999999999999999999"), Options{})
	assert.ErrorIs(err, ErrNotFound)

	// wrong length is not an ID; it falls through to name matching
	_, err = r.Resolve(ctx, request(ch, "11111"), Options{})
	assert.ErrorIs(err, ErrNotFound)
	assert.Empty(ch.Prompts())
}

func TestResolveByMention(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r, ch := resolverFixture(smith, smithy, alice)

	a, err := r.Resolve(ctx, request(ch, fmt.Sprintf("<@!%s> stop it", alice.ID)), Options{RequireConfirmation: true})
	assert.NoError(err)
	assert.Equal(alice.ID, a.ID)

	req := request(ch, "hey you")
	req.Mentions = []string{smithy.ID}
	a, err = r.Resolve(ctx, req, Options{})
	assert.NoError(err)
	assert.Equal(smithy.ID, a.ID)
	assert.Empty(ch.Prompts())

	_, err = r.Resolve(ctx, request(ch, "<#444444444444444444>"), Options{})
	assert.ErrorIs(err, ErrNotFound)
}

func TestResolveExactName(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r, ch := resolverFixture(smith, alice)

	a, err := r.Resolve(ctx, request(ch, "Ally"), Options{})
	assert.NoError(err)
	assert.Equal(alice.ID, a.ID)
	assert.Empty(ch.Prompts())

	_, err = r.Resolve(ctx, request(ch, "nobody"), Options{})
	assert.ErrorIs(err, ErrNotFound)
	_, err = r.Resolve(ctx, request(ch, "   "), Options{})
	assert.ErrorIs(err, ErrNotFound)
}

func TestResolveSingleLooseMatchConfirms(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	r, ch := resolverFixture(smith, alice)

	ch.Send(requester, "yes")
	a, err := r.Resolve(ctx, request(ch, "ali"), Options{})
	require.NoError(err)
	assert.Equal(alice.ID, a.ID)
	prompts := ch.Prompts()
	require.Len(prompts, 1)
	assert.Equal(confirm.KindYesNo, prompts[0].Kind)
	assert.Equal(requester, prompts[0].Requester)
	assert.Equal(time.Second, prompts[0].Timeout)

	ch.Send(requester, "no")
	_, err = r.Resolve(ctx, request(ch, "ali"), Options{})
	assert.ErrorIs(err, ErrCancelled)

	// exact match, but confirmation forced
	ch.Send(requester, "y")
	a, err = r.Resolve(ctx, request(ch, "Alice"), Options{RequireConfirmation: true})
	assert.NoError(err)
	assert.Equal(alice.ID, a.ID)
	assert.Len(ch.Prompts(), 3)
}

func TestResolveConfirmationTimeout(t *testing.T) {
	assert := assert.New(t)
	r, ch := resolverFixture(smith, alice)
	r.ConfirmTimeout = 20 * time.Millisecond

	// a reply from someone else doesn't count
	ch.Send("12345", "yes")
	_, err := r.Resolve(context.Background(), request(ch, "ali"), Options{})
	assert.ErrorIs(err, ErrCancelled)
}

func TestResolveAmbiguousNumberedChoice(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	r, ch := resolverFixture(smithy, smith, alice)

	ch.Send(requester, "1")
	a, err := r.Resolve(ctx, request(ch, "smith"), Options{AllowAmbiguous: true})
	require.NoError(err)
	assert.Equal(smith.ID, a.ID)

	prompts := ch.Prompts()
	require.Len(prompts, 1)
	assert.Equal(confirm.KindNumbered, prompts[0].Kind)
	require.Len(prompts[0].Choices, 2)
	assert.Contains(prompts[0].Choices[0].Label, "Smith")
	assert.Contains(prompts[0].Choices[1].Label, "Smithy")

	ch.Send(requester, "2")
	a, err = r.Resolve(ctx, request(ch, "smith"), Options{AllowAmbiguous: true})
	require.NoError(err)
	assert.Equal(smithy.ID, a.ID)

	ch.Send(requester, "3")
	_, err = r.Resolve(ctx, request(ch, "smith"), Options{AllowAmbiguous: true})
	assert.ErrorIs(err, ErrCancelled)
}

func TestResolveAmbiguousTimeout(t *testing.T) {
	assert := assert.New(t)
	r, ch := resolverFixture(smithy, smith)
	r.ConfirmTimeout = 20 * time.Millisecond

	_, err := r.Resolve(context.Background(), request(ch, "smith"), Options{AllowAmbiguous: true})
	assert.ErrorIs(err, ErrCancelled)
	prompts := ch.Prompts()
	assert.Len(prompts, 1)
	assert.Equal(confirm.KindNumbered, prompts[0].Kind)
}

func TestResolveAmbiguousNotAllowed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r, ch := resolverFixture(smithy, smith)

	_, err := r.Resolve(ctx, request(ch, "smith"), Options{})
	assert.ErrorIs(err, ErrAmbiguous)

	// a single case-exact match among the candidates is good enough
	a, err := r.Resolve(ctx, request(ch, "Smith"), Options{})
	assert.NoError(err)
	assert.Equal(smith.ID, a.ID)
	assert.Empty(ch.Prompts())
}

func TestResolveTooManyCandidates(t *testing.T) {
	assert := assert.New(t)
	faker := gofakeit.New(42)

	var actors []actor.Actor
	for i := 0; i < MaxCandidates+2; i++ {
		actors = append(actors, actor.Actor{
			ID:          fmt.Sprintf("5%017d", i),
			DisplayName: "bot " + faker.FirstName(),
			Username:    faker.Username(),
		})
	}
	r, ch := resolverFixture(actors...)

	_, err := r.Resolve(context.Background(), request(ch, "bot "), Options{AllowAmbiguous: true})
	assert.ErrorIs(err, ErrAmbiguous)
	assert.Empty(ch.Prompts())
}

func TestResolveFreshNames(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	dir := actor.NewMockDirectory()
	dir.Insert(alice)
	r := New(&dir, confirm.NewAsker(nil, nil), nil)
	ch := confirm.NewMockChannel()

	a, err := r.Resolve(ctx, request(ch, "Alice"), Options{})
	assert.NoError(err)
	assert.Equal(alice.ID, a.ID)

	renamed := alice
	renamed.DisplayName = "Alicia"
	renamed.Username = "alicia"
	renamed.Nickname = ""
	dir.Insert(renamed)
	a, err = r.Resolve(ctx, request(ch, "Alicia"), Options{})
	assert.NoError(err)
	assert.Equal("Alicia", a.DisplayName)
}
