package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
)

// NewHTTPClient returns the retrying HTTP client used by the concrete
// providers. Retries are few and sit below the breaker layer:
// transient blips are absorbed here, sustained failure surfaces as one
// breaker-visible error.
func NewHTTPClient(timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	// The stock policy also retries 429. A 429 must surface immediately so
	// the breaker can apply its longer rate-limited cooldown.
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == 0 || (resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented) {
			return true, nil
		}
		return false, nil
	}
	return c
}

// ClassifyStatus maps a non-2xx HTTP status onto the provider error
// taxonomy.
func ClassifyStatus(code int) *core.Error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.ErrAuth
	case code == http.StatusTooManyRequests:
		return core.ErrRateLimited
	case code == http.StatusNotFound:
		return core.ErrNotFound
	case code >= 500:
		return core.ErrTransport
	default:
		return core.ErrSchema
	}
}

// FilterFields returns the subset of all matching the requested field names.
// An empty request keeps everything.
func FilterFields(all map[string]float64, requested []string) map[string]float64 {
	if len(requested) == 0 {
		return all
	}
	out := make(map[string]float64, len(requested))
	for _, f := range requested {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out
}
