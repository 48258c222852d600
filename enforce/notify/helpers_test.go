package notify

import (
	"net/http"
	"time"

	"github.com/hifumi-dev/hifumi/pkg/robusthttp"
)

func testClient() *http.Client {
	return robusthttp.NewClient(
		robusthttp.WithMaxRetries(2),
		robusthttp.WithRetryWaitMin(time.Millisecond),
		robusthttp.WithRetryWaitMax(5*time.Millisecond),
	)
}
