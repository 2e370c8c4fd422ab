package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

func TestCommand() *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "Dry-run an automation against a sample event payload",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "automation",
				Aliases:  []string{"a"},
				Usage:    "JSON file with the automation definition",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Automation to pick when the file holds several",
			},
			&cli.StringFlag{
				Name:     "sample",
				Aliases:  []string{"s"},
				Usage:    "JSON file with the event payload ({\"contact\": {...}, \"deal\": {...}})",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "event-type",
				Usage: "Event to simulate; defaults to the automation trigger",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level"))

			automations, err := loadAutomations(command.String("automation"))
			if err != nil {
				return err
			}

			automation, err := pickAutomation(automations, command.String("id"))
			if err != nil {
				return err
			}

			payload, err := loadPayload(command.String("sample"))
			if err != nil {
				return err
			}

			sample := debugger.Sample{
				EventType: events.EventType(command.String("event-type")),
				Data:      payload,
			}

			return dryRun(ctx, os.Stdout, automation, sample, logger)
		},
	}
}

func pickAutomation(automations []*models.Automation, id string) (*models.Automation, error) {
	if id == "" {
		if len(automations) != 1 {
			return nil, fmt.Errorf("file holds %d automations, pick one with --id", len(automations))
		}

		return automations[0], nil
	}

	for _, automation := range automations {
		if automation.ID == id {
			return automation, nil
		}
	}

	return nil, fmt.Errorf("automation %q not in file", id)
}

func loadPayload(path string) (events.Payload, error) {
	var payload events.Payload

	data, err := os.ReadFile(path)
	if err != nil {
		return payload, fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(data, &payload)
	if err != nil {
		return payload, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return payload, nil
}

// dryRun evaluates the automation without a store; nothing is executed or persisted.
func dryRun(ctx context.Context, w io.Writer, automation *models.Automation, sample debugger.Sample, logger *slog.Logger) error {
	if sample.EventType != "" && !sample.EventType.IsIngress() {
		return errors.New("event type must be one of the CRM events")
	}

	tracer := debugger.NewTracer(nil, clockwork.NewRealClock(), logger, debugger.DefaultBufferSize)

	result, err := debugger.New(nil, nil, tracer).DryRun(ctx, automation, sample)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(result)
}
