package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/crmflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidAutomations = errors.New("invalid automations")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate automation definitions from a JSON file",
		ArgsUsage: "<file>",
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("automation file is required")
			}

			automations, err := loadAutomations(path)
			if err != nil {
				return err
			}

			return validateAutomations(os.Stdout, automations)
		},
	}
}

// loadAutomations reads a JSON file holding one automation or an array of them.
func loadAutomations(path string) ([]*models.Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var automations []*models.Automation

		err = json.Unmarshal(data, &automations)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		return automations, nil
	}

	var automation models.Automation

	err = json.Unmarshal(data, &automation)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return []*models.Automation{&automation}, nil
}

func validateAutomations(w io.Writer, automations []*models.Automation) error {
	invalid := 0

	for i, automation := range automations {
		name := automation.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}

		err := automation.Validate()
		if err != nil {
			invalid++

			_, _ = fmt.Fprintf(w, "FAIL %s: %v\n", name, err)

			continue
		}

		_, _ = fmt.Fprintf(w, "ok   %s\n", name)
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidAutomations, invalid, len(automations))
	}

	return nil
}
