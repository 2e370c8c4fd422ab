// Package engine wires the event bus, enrollment decisions, the step scheduler and the
// debugger into one automation engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/enrollment"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/executor"
	"github.com/dukex/crmflow/pkg/exitcriteria"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/scheduler"
	"github.com/dukex/crmflow/pkg/suppression"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

const DefaultPort = 9092

var ErrMissingDependency = errors.New("engine requires a store and an event bus")

// Config holds the tunables of the engine.
type Config struct {
	Tick            time.Duration
	Concurrency     int
	BatchSize       int
	ActionTimeout   time.Duration
	ClaimLease      time.Duration
	RetryDelay      time.Duration
	TraceBufferSize int
	Port            int
}

func DefaultConfig() Config {
	return Config{
		Tick:            scheduler.DefaultTick,
		Concurrency:     scheduler.DefaultConcurrency,
		BatchSize:       scheduler.DefaultBatchSize,
		ActionTimeout:   actions.DefaultTimeout,
		ClaimLease:      scheduler.DefaultLease,
		RetryDelay:      executor.DefaultRetryDelay,
		TraceBufferSize: debugger.DefaultBufferSize,
		Port:            DefaultPort,
	}
}

// Dependencies are the collaborators the engine runs against. Suppression and Tracer may be nil.
type Dependencies struct {
	Store       persistence.Persistence
	Bus         eventbus.EventBus
	Mailer      actions.Mailer
	Suppression suppression.Checker
	Clock       clockwork.Clock
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

type Engine struct {
	config    Config
	store     persistence.Persistence
	bus       eventbus.EventBus
	decider   *enrollment.Decider
	executor  *executor.Executor
	scheduler *scheduler.Scheduler
	debugger  *debugger.Debugger
	clock     clockwork.Clock
	logger    *slog.Logger
}

// New builds the engine and registers the enrollment decider on the bus. Call Start to
// subscribe and begin ticking.
func New(config Config, deps Dependencies) (*Engine, error) {
	if deps.Store == nil || deps.Bus == nil {
		return nil, ErrMissingDependency
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	otelTracer := deps.Tracer
	if otelTracer == nil {
		otelTracer = otelhelper.NoopTracer()
	}

	mailer := deps.Mailer
	if mailer == nil {
		mailer = actions.NewLogMailer(logger)
	}

	tracer := debugger.NewTracer(deps.Store.ExecutionLogs(), clock, logger, config.TraceBufferSize)

	decider := enrollment.NewDecider(
		deps.Store.Automations(),
		deps.Store.Enrollments(),
		deps.Bus,
		tracer,
		clock,
		logger,
	)

	stepExecutor := executor.NewExecutor(
		deps.Store,
		actions.NewExecutor(deps.Store.Records(), mailer, config.ActionTimeout, logger),
		exitcriteria.NewEvaluator(deps.Suppression, clock, logger),
		deps.Bus,
		tracer,
		otelTracer,
		clock,
		config.RetryDelay,
		logger,
	)

	stepScheduler := scheduler.NewScheduler(
		deps.Store.Enrollments(),
		stepExecutor,
		scheduler.Config{
			Tick:        config.Tick,
			Lease:       config.ClaimLease,
			Concurrency: config.Concurrency,
			BatchSize:   config.BatchSize,
		},
		clock,
		otelTracer,
		logger,
	)

	err := decider.Register(deps.Bus)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:    config,
		store:     deps.Store,
		bus:       deps.Bus,
		decider:   decider,
		executor:  stepExecutor,
		scheduler: stepScheduler,
		debugger:  debugger.New(deps.Store.Automations(), deps.Store.ExecutionLogs(), tracer),
		clock:     clock,
		logger:    logger.With("module", "engine"),
	}, nil
}

// Start subscribes to the bus and starts the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	err := e.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	err = e.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Engine started")

	return nil
}

// Stop stops the scheduler. The bus and store are owned by the caller.
func (e *Engine) Stop(ctx context.Context) error {
	err := e.scheduler.Stop(ctx)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Engine stopped")

	return nil
}

// RunOnce runs one scheduler pass immediately.
func (e *Engine) RunOnce(ctx context.Context) (scheduler.PassResult, error) {
	return e.scheduler.RunOnce(ctx)
}

// Publish validates a CRM event and puts it on the bus, keyed by the entity id.
func (e *Engine) Publish(ctx context.Context, event *events.EntityEvent) error {
	err := event.Validate()
	if err != nil {
		return err
	}

	key := event.Data.Entity(event.Type.TriggerType()).ID()

	err = e.bus.Publish(ctx, key, event)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	return nil
}

// Decide runs the enrollment decision synchronously, bypassing the bus.
func (e *Engine) Decide(ctx context.Context, event *events.EntityEvent) ([]enrollment.Result, error) {
	err := event.Validate()
	if err != nil {
		return nil, err
	}

	return e.decider.OnEvent(ctx, event.Type, event.UserID, event.Data)
}

// Unenroll stops an active enrollment. Unenrolling a terminal enrollment returns it unchanged.
func (e *Engine) Unenroll(ctx context.Context, id string) (*models.Enrollment, error) {
	current, err := e.store.Enrollments().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status.IsTerminal() {
		return current, nil
	}

	now := e.clock.Now().UTC()

	unenrolled, err := e.store.Enrollments().Unenroll(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to unenroll: %w", err)
	}

	if unenrolled.Status != models.EnrollmentUnenrolled {
		return unenrolled, nil
	}

	e.logger.InfoContext(ctx, "Enrollment unenrolled",
		"enrollment_id", id,
		"automation_id", unenrolled.AutomationID)

	err = e.bus.Publish(ctx, id, events.NewEnrollmentEvent(unenrolled, now))
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish enrollment event", "enrollment_id", id, "error", err)
	}

	return unenrolled, nil
}

// Enrollment returns one enrollment.
func (e *Engine) Enrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	return e.store.Enrollments().ByID(ctx, id)
}

func (e *Engine) Debugger() *debugger.Debugger {
	return e.debugger
}

func (e *Engine) Config() Config {
	return e.config
}

// HealthCheck reports the store health.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.store.HealthCheck(ctx)
}
