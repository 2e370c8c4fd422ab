package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func RunCommand() *cli.Command {
	defaults := engine.DefaultConfig()

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the event subscription, the step scheduler and the operator API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL: file://dir or postgres://...",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   cmd.EventBusGoChannel,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers, used with --event-bus kafka",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL of the email suppression list; empty keeps it in memory",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "tick",
				Usage:   "Interval between scheduler passes",
				Value:   defaults.Tick,
				Sources: cli.EnvVars("SCHEDULER_TICK"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Enrollments processed in parallel within one pass",
				Value:   defaults.Concurrency,
				Sources: cli.EnvVars("SCHEDULER_CONCURRENCY"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum enrollments claimed per pass",
				Value:   defaults.BatchSize,
				Sources: cli.EnvVars("SCHEDULER_BATCH_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "action-timeout",
				Usage:   "Time limit of a single action",
				Value:   defaults.ActionTimeout,
				Sources: cli.EnvVars("ACTION_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "claim-lease",
				Usage:   "How long a claimed enrollment stays invisible to other passes",
				Value:   defaults.ClaimLease,
				Sources: cli.EnvVars("CLAIM_LEASE"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the operator API on",
				Value:   defaults.Port,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_TRACING"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("crmflow")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing crmflow")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			bus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			suppressionList, err := cmd.NewSuppression(ctx, command.String("redis-url"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := suppressionList.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close suppression list", "error", err)
				}
			}()

			tracer := otelhelper.NoopTracer()

			if command.Bool("tracing") {
				otelTracer, shutdown, err := otelhelper.NewTracer(ctx, "crmflow")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				tracer = otelTracer
			}

			config := engine.DefaultConfig()
			config.Tick = command.Duration("tick")
			config.Concurrency = command.Int("concurrency")
			config.BatchSize = command.Int("batch-size")
			config.ActionTimeout = command.Duration("action-timeout")
			config.ClaimLease = command.Duration("claim-lease")
			config.Port = command.Int("port")

			e, err := engine.New(config, engine.Dependencies{
				Store:       store,
				Bus:         bus,
				Suppression: suppressionList,
				Tracer:      tracer,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			err = e.Start(ctx)
			if err != nil {
				return err
			}

			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := e.Stop(stopCtx); err != nil {
					logger.ErrorContext(ctx, "Failed to stop engine", "error", err)
				}
			}()

			api := NewAPI(logger, e)

			return api.Start(ctx, config.Port)
		},
	}
}
