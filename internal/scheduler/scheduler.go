// Package scheduler polls the registry for due executions and hands each
// one to the state machine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/copp1723/onekeel-swarm/internal/domain"
	"github.com/copp1723/onekeel-swarm/internal/execution"
	"github.com/copp1723/onekeel-swarm/internal/metrics"
	"github.com/copp1723/onekeel-swarm/internal/pkg/clock"
	"github.com/copp1723/onekeel-swarm/internal/pkg/distlock"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
	"github.com/copp1723/onekeel-swarm/internal/registry"
)

const (
	DefaultTickInterval   = 5 * time.Second
	DefaultBatchSize      = 100
	DefaultMaxConcurrent  = 10
	DefaultAdvanceTimeout = 5 * time.Minute
)

// Advancer runs one step of an execution. *execution.Machine satisfies it.
type Advancer interface {
	Advance(ctx context.Context, executionID string) (*domain.Execution, error)
}

// Archiver stores terminal executions before cleanup deletes them.
type Archiver interface {
	Archive(ctx context.Context, execs []*domain.Execution) error
}

// Config tunes the loop. Zero values fall back to the defaults above.
type Config struct {
	TickInterval   time.Duration
	BatchSize      int
	MaxConcurrent  int
	AdvanceTimeout time.Duration

	// RetentionDays > 0 with CleanupInterval > 0 runs CleanupOldExecutions
	// in the background.
	RetentionDays   int
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.AdvanceTimeout <= 0 {
		c.AdvanceTimeout = DefaultAdvanceTimeout
	}
	return c
}

// Health is the scheduler's liveness snapshot.
type Health struct {
	IsRunning   bool       `json:"is_running"`
	ActiveCount int        `json:"active_count"`
	LastTickAt  *time.Time `json:"last_tick_at"`
}

// Scheduler drives due executions forward. One loop runs per process and
// ticks never overlap. An execution whose previous advance is still running
// is skipped until a later tick.
type Scheduler struct {
	registry registry.Registry
	advancer Advancer
	cfg      Config
	clock    clock.Clock
	locks    distlock.Factory
	archiver Archiver
	metrics  *metrics.Metrics

	// Control
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup

	tickMu   sync.Mutex
	lastTick atomic.Pointer[time.Time]

	flightMu sync.Mutex
	inFlight map[string]struct{}
	advances sync.WaitGroup
	sem      chan struct{}

	// Stats
	totalAdvanced int64
	totalErrors   int64
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithLocks enables per-execution distributed locking for deployments where
// several processes share one registry.
func WithLocks(f distlock.Factory) Option { return func(s *Scheduler) { s.locks = f } }

func WithArchiver(a Archiver) Option { return func(s *Scheduler) { s.archiver = a } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

func New(reg registry.Registry, adv Advancer, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: reg,
		advancer: adv,
		cfg:      cfg.withDefaults(),
		clock:    clock.Real{},
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = make(chan struct{}, s.cfg.MaxConcurrent)
	return s
}

// Start launches the tick loop. Calling it on a running scheduler does
// nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel

	s.loops.Add(1)
	go s.tickLoop(ctx)
	if s.cfg.RetentionDays > 0 && s.cfg.CleanupInterval > 0 {
		s.loops.Add(1)
		go s.cleanupLoop(ctx)
	}
	s.mu.Unlock()

	logger.Info("[Scheduler] started", "tick_interval", s.cfg.TickInterval.String(),
		"batch_size", s.cfg.BatchSize, "distributed_locks", s.locks != nil)
}

// Stop prevents new ticks and waits for advances already running. It does
// not interrupt a dispatch in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.loops.Wait()
	s.advances.Wait()

	logger.Info("[Scheduler] stopped",
		"advanced", atomic.LoadInt64(&s.totalAdvanced),
		"errors", atomic.LoadInt64(&s.totalErrors))
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.loops.Done()

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				logger.Error("[Scheduler] tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.loops.Done()

	ticker := s.clock.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := s.CleanupOldExecutions(ctx, s.cfg.RetentionDays); err != nil && ctx.Err() == nil {
				logger.Error("[Scheduler] cleanup failed", "error", err)
			}
		}
	}
}

// Tick launches an advance for every due execution that is not already in
// flight and returns how many were started. Advances run asynchronously on
// a context detached from ctx; ctx only bounds the registry query and the
// wait for a free worker slot.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := s.clock.Now()
	defer func() {
		s.lastTick.Store(&start)
		s.metrics.Tick(s.clock.Now().Sub(start))
	}()

	due, err := s.registry.ListDue(ctx, start, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due executions: %w", err)
	}

	launched := 0
	for _, exec := range due {
		if !s.markInFlight(exec.ID) {
			s.metrics.Skipped("in_flight")
			continue
		}

		var lock distlock.DistLock
		if s.locks != nil {
			lock = s.locks(distlock.ExecutionKey(exec.ID))
			ok, err := lock.Acquire(ctx)
			if err != nil || !ok {
				if err != nil {
					logger.Warn("[Scheduler] lock acquire failed", "execution_id", exec.ID, "error", err)
				}
				s.metrics.Skipped("locked")
				s.clearInFlight(exec.ID)
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			s.release(lock, exec.ID)
			s.clearInFlight(exec.ID)
			return launched, ctx.Err()
		}

		s.advances.Add(1)
		go s.advance(context.WithoutCancel(ctx), exec.ID, lock)
		launched++
	}
	return launched, nil
}

func (s *Scheduler) advance(ctx context.Context, id string, lock distlock.DistLock) {
	defer s.advances.Done()
	defer func() { <-s.sem }()
	defer s.clearInFlight(id)
	defer s.release(lock, id)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&s.totalErrors, 1)
			s.metrics.AdvanceError()
			logger.Error("[Scheduler] advance panicked", "execution_id", id, "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AdvanceTimeout)
	defer cancel()

	exec, err := s.advancer.Advance(ctx, id)
	switch {
	case errors.Is(err, execution.ErrInFlight):
		// an API call got there first
		s.metrics.Skipped("in_flight")
	case err != nil:
		atomic.AddInt64(&s.totalErrors, 1)
		s.metrics.AdvanceError()
		logger.Error("[Scheduler] advance failed", "execution_id", id, "error", err)
	default:
		atomic.AddInt64(&s.totalAdvanced, 1)
		logger.Debug("[Scheduler] advanced", "execution_id", id,
			"status", exec.Status, "step_index", exec.CurrentStepIndex)
	}
}

func (s *Scheduler) release(lock distlock.DistLock, id string) {
	if lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		logger.Warn("[Scheduler] lock release failed", "execution_id", id, "error", err)
	}
}

func (s *Scheduler) markInFlight(id string) bool {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(id string) {
	s.flightMu.Lock()
	delete(s.inFlight, id)
	s.flightMu.Unlock()
}

// HealthStatus reports whether the loop is running, how many executions
// are active and when the last tick ran. LastTickAt is nil before the
// first tick.
func (s *Scheduler) HealthStatus(ctx context.Context) (Health, error) {
	h := Health{IsRunning: s.IsRunning(), LastTickAt: s.lastTick.Load()}
	n, err := s.registry.CountActive(ctx)
	if err != nil {
		return h, fmt.Errorf("count active executions: %w", err)
	}
	h.ActiveCount = n
	return h, nil
}
