package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/models"
)

// DeliveryStatus is the outcome reported by a Mailer.
type DeliveryStatus string

const (
	Delivered DeliveryStatus = "delivered"
	Failed    DeliveryStatus = "failed"
)

// Email is a rendered message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer is the transactional email collaborator.
type Mailer interface {
	Send(ctx context.Context, email Email) (DeliveryStatus, error)
}

// LogMailer writes emails to the logger and reports them delivered.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("module", "log_mailer")}
}

func (m *LogMailer) Send(ctx context.Context, email Email) (DeliveryStatus, error) {
	m.logger.InfoContext(ctx, "Sending email", "to", email.To, "subject", email.Subject, "body_length", len(email.Body))

	return Delivered, nil
}

// templateVars assembles the variable set for an email: the enrolled entity at the top
// level, plus the contact and deal objects when they can be resolved.
func (e *Executor) templateVars(ctx context.Context, op string, target Target) (models.Record, error) {
	entity, err := e.load(ctx, op, target.EntityType, target.EntityID, target)
	if err != nil {
		return nil, err
	}

	vars := entity.Clone()
	vars[string(target.EntityType)] = map[string]any(entity)

	if target.EntityType == models.EntityDeal {
		contactID := entity.String(models.FieldContactID)
		if contactID != "" {
			contact, err := e.load(ctx, op, models.EntityContact, contactID, target)
			if err != nil && !engineerr.IsNotFound(err) {
				return nil, err
			}

			if contact != nil {
				vars[string(models.EntityContact)] = map[string]any(contact)
			}
		}
	}

	return vars, nil
}

func (e *Executor) sendEmail(ctx context.Context, a *SendEmail, target Target) error {
	op := string(models.ActionSendEmail)

	vars, err := e.templateVars(ctx, op, target)
	if err != nil {
		return err
	}

	to := RenderTemplate(a.To, vars)
	if to == "" {
		if contact, ok := vars[string(models.EntityContact)].(map[string]any); ok {
			to = models.Record(contact).String(models.FieldEmail)
		}
	}

	if to == "" {
		return engineerr.ActionError(op, engineerr.CodeNotFound, errors.New("no recipient email address"))
	}

	email := Email{
		To:      to,
		Subject: RenderTemplate(a.Subject, vars),
		Body:    RenderTemplate(a.Body, vars),
	}

	err = expired(ctx, op)
	if err != nil {
		return err
	}

	status, err := e.mailer.Send(ctx, email)
	if err != nil {
		return engineerr.ActionError(op, engineerr.CodeExecutionFailed, err)
	}

	if status != Delivered {
		return engineerr.ActionError(op, engineerr.CodeExecutionFailed, fmt.Errorf("email to %s was not delivered", to))
	}

	return nil
}
