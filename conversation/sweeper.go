package conversation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSweepInterval is how often idle sessions are checked.
	DefaultSweepInterval = 1 * time.Minute

	// DefaultIdleTimeout is how long a session may go untouched.
	DefaultIdleTimeout = 30 * time.Minute
)

// Purger drops expired entries and reports how many were removed.
type Purger interface {
	Purge(now time.Time) int
}

// Sweeper periodically removes idle sessions and purges expired state
// such as escalation cooldowns.
type Sweeper struct {
	engine   *Engine
	idle     time.Duration
	interval time.Duration
	purgers  []Purger
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the tick interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithIdleTimeout sets how long a session may go untouched.
func WithIdleTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.idle = d
		}
	}
}

// WithPurger adds state that is purged on every tick.
func WithPurger(p Purger) SweeperOption {
	return func(s *Sweeper) {
		s.purgers = append(s.purgers, p)
	}
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// NewSweeper creates a Sweeper for engine.
func NewSweeper(engine *Engine, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		engine:   engine,
		idle:     DefaultIdleTimeout,
		interval: DefaultSweepInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins sweeping in the background. Starting a running Sweeper is
// a no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(sweepCtx)

	return nil
}

// Stop halts the Sweeper and waits for the current tick to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the Sweeper is running.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SweepOnce runs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (sessions, purged int) {
	sessions = s.engine.SweepIdle(ctx, s.idle)
	now := s.engine.now()
	for _, p := range s.purgers {
		purged += p.Purge(now)
	}
	return sessions, purged
}

func (s *Sweeper) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		if s.done != nil {
			close(s.done)
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sweeper stopping")
			return
		case <-ticker.C:
			start := time.Now()
			sessions, purged := s.SweepOnce(ctx)
			if sessions > 0 || purged > 0 {
				s.logger.Info("swept idle state",
					zap.Int("sessions", sessions),
					zap.Int("escalations", purged),
					zap.Duration("duration", time.Since(start)),
					zap.Int("live", s.engine.store.Len()),
				)
			}
		}
	}
}
