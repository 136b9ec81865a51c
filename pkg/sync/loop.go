package sync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RunEvery calls `fn` once immediately, and then again whenever `trigger`
// fires or `interval` passes without a trigger. It returns once `ctx` is
// done. A nil trigger channel never fires, so `fn` only runs on the
// interval.
func RunEvery(ctx context.Context, clock clockwork.Clock, interval time.Duration,
	trigger <-chan struct{}, fn func()) {

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()

		select {
		case <-ctx.Done():
			return
		case <-trigger:
		case <-ticker.Chan():
		}
	}
}

// DefaultQuietPeriod is how long a storage directory must go without changes
// before watch mode reads it.
const DefaultQuietPeriod = 2 * time.Second

// Debounce forwards a single event from `in` once `quiet` passes without any
// further events. Every event restarts the wait, so a file that's still
// being copied in doesn't trigger a sync until the copy stops.
func Debounce(ctx context.Context, clock clockwork.Clock, quiet time.Duration,
	in <-chan struct{}) <-chan struct{} {

	out := make(chan struct{}, 1)
	go func() {
		var timer clockwork.Timer
		var fire <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-in:
				if !ok {
					in = nil
					continue
				}

				if timer != nil {
					timer.Stop()
				}
				timer = clock.NewTimer(quiet)
				fire = timer.Chan()
			case <-fire:
				fire = nil
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
