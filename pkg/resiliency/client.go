package resiliency

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned fail-fast when the outbound rate cap has no
// tokens left.
var ErrRateLimited = errors.New("resiliency: outbound rate limit exceeded")

// Client combines an outbound rate cap with a circuit breaker. It exists
// for the content-generation calls the governed agents make: the limiter
// protects the upstream from bursts, the breaker protects the engine from a
// failing upstream.
type Client struct {
	breaker *Breaker
	limiter *rate.Limiter
}

// NewClient builds a client capped at rps calls per second with the given
// burst. A non-positive rps disables the cap.
func NewClient(breaker *Breaker, rps float64, burst int) *Client {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{breaker: breaker, limiter: limiter}
}

// Do executes fn under the rate cap and breaker. Rate rejections do not
// count against the breaker.
func (c *Client) Do(ctx context.Context, fn func(context.Context) error) error {
	if c.limiter != nil && !c.limiter.Allow() {
		return ErrRateLimited
	}
	return c.breaker.Execute(ctx, fn)
}
