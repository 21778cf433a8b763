// Package rate limits order submissions per account.
package rate

import (
	"context"
	"time"
)

// Limiter answers whether one more submission is allowed for the key within
// the current window, and if not, how long until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
