// Package throttle provides an HTTP middleware which rate limits requests, returning 429 (too many requests)
package throttle

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Throttle gates requests through a token bucket.  Instrument links are
// slow and easily flooded; a burst of raw commands can wedge a serial
// adapter for seconds.
type Throttle struct {
	limiter *rate.Limiter
}

// New returns a Throttle which admits rps requests per second on average,
// with the given burst allowance
func New(rps float64, burst int) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Check is an HTTP middleware that returns http.StatusTooManyRequests when
// the bucket is empty, otherwise passes down the line
func (t *Throttle) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.limiter.Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
