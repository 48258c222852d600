package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var calls atomic.Int32
	var got SlackWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// first attempt fails, retry succeeds
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := &SlackNotifier{
		SlackWebhookURL: srv.URL,
		Client:          testClient(),
	}
	err := n.Notify(ctx, Notice{
		Level:  LevelError,
		Title:  "Action failed",
		Body:   "gave up",
		Fields: []Field{{Key: "action", Value: "abc"}},
	})
	assert.NoError(err)
	assert.Equal(int32(2), calls.Load())
	assert.Contains(got.Text, "Action failed")
	assert.Contains(got.Text, "action: `abc`")
}

func TestSlackNotifierRejected(t *testing.T) {
	assert := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	n := &SlackNotifier{SlackWebhookURL: srv.URL, Client: testClient()}
	assert.Error(n.Notify(context.Background(), Notice{Title: "x"}))
}

func TestMulti(t *testing.T) {
	assert := assert.New(t)
	var a, b countingNotifier
	m := Multi{&a, LogNotifier{}, &b}
	assert.NoError(m.Notify(context.Background(), Notice{Level: LevelWarn, Title: "degraded"}))
	assert.Equal(1, a.n)
	assert.Equal(1, b.n)
}

type countingNotifier struct {
	n int
}

func (c *countingNotifier) Notify(ctx context.Context, n Notice) error {
	c.n++
	return nil
}
