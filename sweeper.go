package permit

import (
	"context"
	"sync"
	"time"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// RETENTION SWEEPER
// ============================================================================

const (
	defaultRetention     = 90 * 24 * time.Hour
	defaultSweepInterval = time.Hour
)

// RetentionSweeper periodically purges aged Expired/Revoked delegation
// records. Active records are never touched; the repository enforces that,
// the sweeper only drives the schedule.
type RetentionSweeper struct {
	repo      DelegationRepository
	retention time.Duration
	interval  time.Duration
	log       logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	kick    chan struct{}
	wg      sync.WaitGroup
}

// RetentionSweeperOption configures a RetentionSweeper.
type RetentionSweeperOption func(*RetentionSweeper)

// WithRetention sets how old an Expired/Revoked record must be before it is
// purged.
func WithRetention(d time.Duration) RetentionSweeperOption {
	return func(s *RetentionSweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSweepInterval sets how often the sweep runs.
func WithSweepInterval(d time.Duration) RetentionSweeperOption {
	return func(s *RetentionSweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(log logger.Logger) RetentionSweeperOption {
	return func(s *RetentionSweeper) {
		if log != nil {
			s.log = log
		}
	}
}

func NewRetentionSweeper(repo DelegationRepository, opts ...RetentionSweeperOption) *RetentionSweeper {
	s := &RetentionSweeper{
		repo:      repo,
		retention: defaultRetention,
		interval:  defaultSweepInterval,
		log:       logger.NewNull(),
		kick:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *RetentionSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *RetentionSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// SweepNow triggers a sweep outside the regular schedule. Non-blocking; a
// pending trigger is collapsed into one sweep.
func (s *RetentionSweeper) SweepNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *RetentionSweeper) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.kick:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	removed, err := s.repo.Cleanup(ctx, s.retention)
	if err != nil {
		s.log.Error("delegation retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Info("delegation retention sweep", "removed", removed, "retention", s.retention.String())
	}
}
