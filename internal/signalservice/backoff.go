package signalservice

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes a randomized logarithmic retry delay: unbounded in the
// attempt count, growing sub-logarithmically, with multiplicative jitter to
// avoid a thundering herd of reconnecting clients.
type Backoff struct{}

// Next returns the delay before retry number attempt (0-based).
func (Backoff) Next(attempt int) time.Duration {
	seconds := math.Log1p(float64(attempt)) * 30 * rand.Float64()
	return time.Duration(seconds * float64(time.Second))
}
