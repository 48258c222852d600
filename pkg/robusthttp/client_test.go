package robusthttp

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetries(t *testing.T) {
	assert := assert.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/limited":
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	c := NewClient(WithMaxRetries(3), WithRetryWaitMin(time.Millisecond), WithRetryWaitMax(2*time.Millisecond))

	resp, err := c.Get(srv.URL + "/flaky")
	assert.NoError(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(int32(3), calls.Load())

	calls.Store(0)
	resp, err = c.Get(srv.URL + "/limited")
	assert.NoError(err)
	assert.Equal(http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(int32(1), calls.Load())
}
