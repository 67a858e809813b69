package scheduler

import (
	"context"
	"math/rand"
	"time"
)

// Backoff produces jittered, exponentially growing delays for retry
// attempts. The zero value never sleeps.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the pause before retry number attempt (0-based): a random
// duration in [0, Base<<attempt], capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	ceiling := b.Base << uint(attempt)
	if b.Max > 0 && ceiling > b.Max {
		ceiling = b.Max
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}

// Pause blocks for Delay(attempt), returning early with ctx.Err() if the
// context is cancelled first.
func (b Backoff) Pause(ctx context.Context, attempt int) error {
	d := b.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
