package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// outboundLimiter paces requests to a concrete provider backend, keeping
// a single abusive session from exhausting a shared API key's quota
// before the gateway's own circuit breaker would ever see a failure.
type outboundLimiter struct {
	limiter *rate.Limiter
}

// newOutboundLimiter builds a limiter allowing ratePerSecond requests per
// second with the given burst. A non-positive rate disables pacing.
func newOutboundLimiter(ratePerSecond float64, burst int) *outboundLimiter {
	if ratePerSecond <= 0 {
		return &outboundLimiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &outboundLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// wait blocks until the limiter permits the next request, or ctx is done.
func (l *outboundLimiter) wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
