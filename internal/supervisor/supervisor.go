// Package supervisor wraps a session attempt in a reconnect loop with
// exponential-backoff-plus-jitter and fans session lifecycle events out
// to a bounded observer queue: one attempt runs to completion, its
// private event channel is drained into a shared capacity-32 queue
// that drops the oldest entry on overflow rather than blocking.
package supervisor

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/lawik/hub-link/internal/session"
)

const (
	maxAttempt       = 6
	observerCapacity = 32
)

// Supervisor repeatedly runs session.Run, reconnecting with backoff
// after every termination until its context is cancelled.
type Supervisor struct {
	cfg      session.Config
	logger   *zap.Logger
	observer chan session.Event
}

// New builds a Supervisor for cfg. Observer events are available on
// Events() as a bounded (capacity 32), drop-oldest-on-overflow queue.
func New(cfg session.Config, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   logger,
		observer: make(chan session.Event, observerCapacity),
	}
}

// Events returns the channel observers should drain for session
// lifecycle notifications.
func (s *Supervisor) Events() <-chan session.Event {
	return s.observer
}

// Run drives the reconnect loop until ctx is cancelled. It always
// returns nil; individual session errors are logged and drive backoff,
// never propagated to the caller.
func (s *Supervisor) Run(ctx context.Context) error {
	var attempt uint32

	for {
		if ctx.Err() != nil {
			return nil
		}

		sessionEvents := make(chan session.Event, 16)
		fanoutDone := make(chan struct{})
		go s.fanOut(sessionEvents, fanoutDone)

		err := session.Run(ctx, s.cfg, sessionEvents)
		close(sessionEvents)
		<-fanoutDone

		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			s.logger.Error("session ended with error", zap.Error(err))
			attempt = saturate(attempt + 1)
		} else {
			s.logger.Info("session ended cleanly")
			attempt = 0
		}

		delay := backoffDelay(attempt)
		s.logger.Info("reconnecting", zap.Duration("delay", delay), zap.Uint32("attempt", attempt))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// fanOut copies events from a session attempt's private channel into
// the shared observer queue, dropping the oldest queued event on
// overflow instead of blocking the session loop.
func (s *Supervisor) fanOut(in <-chan session.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range in {
		for {
			select {
			case s.observer <- ev:
			default:
				select {
				case <-s.observer:
				default:
				}
				continue
			}
			break
		}
	}
}

func saturate(attempt uint32) uint32 {
	if attempt > maxAttempt {
		return maxAttempt
	}
	return attempt
}

// backoffDelay computes base = min(60, 2^attempt) seconds plus a
// uniform jitter in [0, 0.5*base).
func backoffDelay(attempt uint32) time.Duration {
	base := pow2(attempt)
	if base > 60 {
		base = 60
	}
	jitter := rand.Float64() * base * 0.5
	return time.Duration((base + jitter) * float64(time.Second))
}

func pow2(attempt uint32) float64 {
	v := 1.0
	for i := uint32(0); i < attempt; i++ {
		v *= 2
		if v >= 60 {
			return 60
		}
	}
	return v
}
