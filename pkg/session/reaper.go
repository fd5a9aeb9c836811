package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultReapInterval is how often expired records are purged.
const DefaultReapInterval = 10 * time.Minute

// Purger is implemented by backends without native expiry.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Reaper periodically purges expired sessions from a Purger.
type Reaper struct {
	purger   Purger
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewReaper creates a reaper. interval <= 0 selects DefaultReapInterval.
func NewReaper(purger Purger, interval time.Duration, logger zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		purger:   purger,
		interval: interval,
		logger:   logger.With().Str("component", "session_reaper").Logger(),
	}
}

// Start runs a purge immediately and then every interval.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reaper is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(r.stopCh, r.doneCh)

	r.logger.Info().Dur("interval", r.interval).Msg("Session reaper started")
	return nil
}

// Stop halts the loop and waits for an in-flight purge to finish.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("reaper is not running")
	}
	close(r.stopCh)
	done := r.doneCh
	r.running = false
	r.mu.Unlock()

	<-done
	r.logger.Info().Msg("Session reaper stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ReapNow purges expired sessions once.
func (r *Reaper) ReapNow(ctx context.Context) (int64, error) {
	n, err := r.purger.PurgeExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	if n > 0 {
		r.logger.Info().Int64("deleted", n).Msg("Purged expired sessions")
	}
	return n, nil
}

func (r *Reaper) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.ReapNow(context.Background()); err != nil {
			r.logger.Error().Err(err).Msg("Session reap failed")
		}
		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}
