// Package web provides the HTTP operator surface of the automation engine.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultLogLimit = 100

// Engine is the part of the automation engine the API exposes.
type Engine interface {
	Enrollment(ctx context.Context, id string) (*models.Enrollment, error)
	Unenroll(ctx context.Context, id string) (*models.Enrollment, error)
	Publish(ctx context.Context, event *events.EntityEvent) error
	Debugger() *debugger.Debugger
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	engine    Engine
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(engine Engine, validator *validator.Validate, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
		logger:    logger.With("module", "api"),
	}
}

// Register mounts every operator route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	a := router.Group("/automations")
	a.Get("/:id/logs", h.GetAutomationLogs)
	a.Post("/:id/test", h.TestAutomation)

	e := router.Group("/enrollments")
	e.Get("/:id", h.GetEnrollment)
	e.Get("/:id/logs", h.GetEnrollmentLogs)
	e.Post("/:id/unenroll", h.UnenrollEnrollment)

	router.Post("/events", h.PublishEvent)
	router.Get("/debug/sessions/:id", h.GetDebugSession)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetAutomationLogs(c fiber.Ctx) error {
	limit := defaultLogLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}

		limit = parsed
	}

	logs, err := h.engine.Debugger().AutomationLogs(c.Context(), c.Params("id"), limit)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(LogsResponse{Logs: logs, Count: len(logs)})
}

func (h *APIHandlers) TestAutomation(c fiber.Ctx) error {
	var req DryRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Debugger().DryRunByID(c.Context(), c.Params("id"), debugger.Sample{
		EventType: req.EventType,
		Data:      req.Data,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	enrollment, err := h.engine.Enrollment(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) GetEnrollmentLogs(c fiber.Ctx) error {
	id := c.Params("id")

	_, err := h.engine.Enrollment(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	logs, err := h.engine.Debugger().EnrollmentLogs(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(LogsResponse{Logs: logs, Count: len(logs)})
}

func (h *APIHandlers) UnenrollEnrollment(c fiber.Ctx) error {
	enrollment, err := h.engine.Unenroll(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	var req PublishEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.NewEntityEvent(req.Type, req.UserID, req.Data)

	err := h.engine.Publish(c.Context(), event)
	if err != nil {
		return handleEngineError(c, err)
	}

	h.logger.DebugContext(c.Context(), "Event accepted", "event_id", event.ID, "event_type", event.Type)

	return c.Status(fiber.StatusAccepted).JSON(PublishEventResponse{ID: event.ID, Type: event.Type})
}

func (h *APIHandlers) GetDebugSession(c fiber.Ctx) error {
	id := c.Params("id")

	lines := h.engine.Debugger().SessionLines(id)
	if len(lines) == 0 {
		return notFound(c, "session not found in the debug buffer")
	}

	return c.JSON(SessionResponse{SessionID: id, Lines: lines})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "crmflow is healthy"
	httpStatus := http.StatusOK
	check := "ok"

	if err := h.engine.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "crmflow is unhealthy"
		httpStatus = http.StatusInternalServerError
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": check,
		},
		"timestamp": time.Now().UTC(),
	})
}
