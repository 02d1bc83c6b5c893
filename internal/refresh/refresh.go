// Package refresh rate-limits dashboard refreshes: bursts of requests coalesce
// into at most one actual refresh per window.
package refresh

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Limiter coalesces Request calls. Requests arriving while a window is open
// collapse into a single pending refresh that fires when the window closes.
type Limiter struct {
	clock  clockwork.Clock
	window time.Duration
	fn     func()
	reqCh  chan struct{}
}

// DefaultWindow is the minimum spacing between refreshes.
const DefaultWindow = 2 * time.Second

// NewLimiter creates a limiter that invokes fn at most once per window.
func NewLimiter(clock clockwork.Clock, window time.Duration, fn func()) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		clock:  clock,
		window: window,
		fn:     fn,
		reqCh:  make(chan struct{}, 1),
	}
}

// Request asks for a refresh. Never blocks; concurrent requests collapse into
// the single pending slot.
func (l *Limiter) Request() {
	select {
	case l.reqCh <- struct{}{}:
	default:
	}
}

// Run services requests until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	log.Info().Dur("window", l.window).Msg("refresh limiter started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.reqCh:
			l.fn()

			// Hold the window open; requests landing now stay pending and
			// fire as one refresh on the next iteration.
			t := l.clock.NewTimer(l.window)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.Chan():
			}
		}
	}
}
