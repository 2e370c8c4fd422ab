package web

import (
	"errors"

	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and storage errors onto problems.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsAutomationNotFound(err):
		return notFound(c, "automation not found")
	case persistence.IsEnrollmentNotFound(err):
		return notFound(c, "enrollment not found")
	case engineerr.IsNotFound(err) || persistence.IsNotFound(err):
		return notFound(c, err.Error())
	case engineerr.IsValidation(err), errors.Is(err, events.ErrInvalidEvent):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
