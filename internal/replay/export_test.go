package replay

import (
	"context"
	"time"
)

// SetSleepFunc swaps the retry sleep so tests can observe backoff timing
// without waiting it out.
func (r *Replayer) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleep = fn
}
