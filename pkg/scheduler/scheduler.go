// Package scheduler runs the polling loop that resumes due enrollments.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTick        = 10 * time.Second
	DefaultLease       = 5 * time.Minute
	DefaultConcurrency = 8
	DefaultBatchSize   = 500
)

var (
	ErrPassInProgress = errors.New("scheduler pass already in progress")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// Processor advances a claimed enrollment by one step.
type Processor interface {
	Process(ctx context.Context, enrollment *models.Enrollment) error
	Fail(ctx context.Context, enrollment *models.Enrollment, cause error) error
}

type Config struct {
	Tick        time.Duration
	Lease       time.Duration
	Concurrency int
	BatchSize   int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}

	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}

	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	return c
}

// PassResult summarizes one scheduler pass.
type PassResult struct {
	Claimed int
	Errors  int
	Panics  int
}

// Scheduler claims due enrollments on every tick and hands them to the Processor with
// bounded concurrency. Only one pass runs at a time; a tick that fires while a pass is
// still running is skipped.
type Scheduler struct {
	enrollments persistence.EnrollmentRepository
	processor   Processor
	config      Config
	clock       clockwork.Clock
	tracer      trace.Tracer
	logger      *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewScheduler(
	enrollments persistence.EnrollmentRepository,
	processor Processor,
	config Config,
	clock clockwork.Clock,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		enrollments: enrollments,
		processor:   processor,
		config:      config.withDefaults(),
		clock:       clock,
		tracer:      tracer,
		logger:      logger.With("module", "scheduler"),
	}
}

// Start schedules a pass every tick until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn))

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.config.Tick), func() {
		_, err := s.RunOnce(ctx)
		if err != nil && !errors.Is(err, ErrPassInProgress) {
			s.logger.ErrorContext(ctx, "Scheduler pass failed", "error", err)
		}
	})
	if err != nil {
		cancel()

		return fmt.Errorf("failed to schedule pass: %w", err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()

	s.logger.InfoContext(ctx, "Scheduler started",
		"tick", s.config.Tick,
		"concurrency", s.config.Concurrency,
		"lease", s.config.Lease)

	return nil
}

// Stop cancels the running pass and waits for it to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	s.cancel()
	done := s.cron.Stop()
	s.cron = nil

	select {
	case <-done.Done():
		s.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// RunOnce claims the due enrollments and processes each of them by one step. Failures of
// individual enrollments are counted, never returned; only a failed claim aborts the pass.
func (s *Scheduler) RunOnce(ctx context.Context) (PassResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	defer s.running.Store(false)

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.pass")
	defer span.End()

	now := s.clock.Now().UTC()

	due, err := s.enrollments.ClaimDue(ctx, now, s.config.Lease, s.config.BatchSize)
	if err != nil {
		otelhelper.SetError(span, err)

		return PassResult{}, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	span.SetAttributes(attribute.Int(otelhelper.ClaimedKey, len(due)))

	if len(due) == 0 {
		return PassResult{}, nil
	}

	s.logger.DebugContext(ctx, "Processing due enrollments", "count", len(due))

	var (
		errCount   atomic.Int64
		panicCount atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, enrollment := range due {
		g.Go(func() error {
			panicked, err := s.process(gctx, enrollment)
			if panicked {
				panicCount.Add(1)
			}

			if err != nil {
				errCount.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	result := PassResult{
		Claimed: len(due),
		Errors:  int(errCount.Load()),
		Panics:  int(panicCount.Load()),
	}

	s.logger.InfoContext(ctx, "Scheduler pass finished",
		"claimed", result.Claimed,
		"errors", result.Errors,
		"panics", result.Panics)

	return result, nil
}

func (s *Scheduler) process(ctx context.Context, enrollment *models.Enrollment) (panicked bool, err error) {
	logger := s.logger.With(
		"enrollment_id", enrollment.ID,
		"automation_id", enrollment.AutomationID,
		"step_index", enrollment.CurrentStepIndex,
	)

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		panicked = true
		err = fmt.Errorf("panic: %v", r)

		logger.ErrorContext(ctx, "Enrollment processing panicked", "panic", r, "stack", string(debug.Stack()))

		failErr := s.processor.Fail(ctx, enrollment, err)
		if failErr != nil {
			logger.ErrorContext(ctx, "Failed to mark panicked enrollment as failed", "error", failErr)
		}
	}()

	err = s.processor.Process(ctx, enrollment)
	if err != nil {
		logger.ErrorContext(ctx, "Enrollment processing failed", "error", err)
	}

	return false, err
}
