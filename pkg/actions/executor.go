package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// DefaultTimeout bounds a single action when the executor is built without one.
const DefaultTimeout = 30 * time.Second

// RecordStore is the part of the CRM the handlers read and mutate.
type RecordStore interface {
	FindRecord(ctx context.Context, entityType models.EntityType, id string) (models.Record, error)
	UpdateRecord(ctx context.Context, entityType models.EntityType, id string, changes models.Record) (models.Record, error)
	StageByID(ctx context.Context, id string) (*models.Stage, error)
	PositionByID(ctx context.Context, id string) (*models.Position, error)
}

// Target is the enrolled entity an action runs against, unless the action config names
// another record explicitly.
type Target struct {
	UserID     string
	EntityType models.EntityType
	EntityID   string
}

// Executor runs parsed actions against the record store.
type Executor struct {
	store   RecordStore
	mailer  Mailer
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor creates an executor. A non-positive timeout falls back to DefaultTimeout.
func NewExecutor(store RecordStore, mailer Mailer, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Executor{
		store:   store,
		mailer:  mailer,
		timeout: timeout,
		logger:  logger.With("module", "action_executor"),
	}
}

// Execute runs one action with the executor timeout. Handlers that outlive the timeout
// are abandoned and reported as a timeout ActionError.
func (e *Executor) Execute(ctx context.Context, action Action, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- engineerr.ActionError(string(action.Type()), engineerr.CodeExecutionFailed,
					fmt.Errorf("panic: %v", r))
			}
		}()

		done <- e.apply(ctx, action, target)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return engineerr.ActionError(string(action.Type()), engineerr.CodeTimeout,
				fmt.Errorf("action did not finish within %s", e.timeout))
		}

		return engineerr.ActionError(string(action.Type()), engineerr.CodeExecutionFailed, ctx.Err())
	}
}

// ExecuteAll parses every action first, so an invalid config fails the batch before any
// mutation, then runs them in order. The first failure aborts the rest; the returned
// results report executed, failed and skipped actions.
func (e *Executor) ExecuteAll(ctx context.Context, raw []models.Action, target Target) ([]models.ActionResult, error) {
	results := make([]models.ActionResult, 0, len(raw))

	parsed, err := ParseAll(raw)
	if err != nil {
		for _, action := range raw {
			results = append(results, models.ActionResult{Action: action, Status: models.ActionStatusSkipped})
		}

		return results, err
	}

	for i, action := range parsed {
		logger := e.logger.With("action_type", action.Type(), "entity_id", target.EntityID)

		err := e.Execute(ctx, action, target)
		if err != nil {
			logger.ErrorContext(ctx, "Action failed", "error", err)

			results = append(results, models.ActionResult{Action: raw[i], Status: models.ActionStatusFailed, Error: err.Error()})
			for _, rest := range raw[i+1:] {
				results = append(results, models.ActionResult{Action: rest, Status: models.ActionStatusSkipped})
			}

			return results, fmt.Errorf("action %d: %w", i, err)
		}

		logger.DebugContext(ctx, "Action executed")

		results = append(results, models.ActionResult{Action: raw[i], Status: models.ActionStatusSuccess})
	}

	return results, nil
}

func (e *Executor) apply(ctx context.Context, action Action, target Target) error {
	switch a := action.(type) {
	case *UpdateField:
		return e.updateField(ctx, a, target)
	case *AddTag:
		return e.addTag(ctx, a, target)
	case *RemoveTag:
		return e.removeTag(ctx, a, target)
	case *MoveStage:
		return e.moveDealStage(ctx, a, target)
	case *SendEmail:
		return e.sendEmail(ctx, a, target)
	case *UpdateCandidateStatus:
		return e.updateCandidateStatus(ctx, a, target)
	case *MoveCandidateStage:
		return e.moveCandidateStage(ctx, a, target)
	case *SetCandidateRating:
		return e.setCandidateRating(ctx, a, target)
	case *AddCandidateNote:
		return e.addCandidateNote(ctx, a, target)
	case *SetInterviewDate:
		return e.setInterviewDate(ctx, a, target)
	case *AssignPosition:
		return e.assignPosition(ctx, a, target)
	default:
		return engineerr.ActionError(string(action.Type()), engineerr.CodeInvalidConfig,
			fmt.Errorf("unsupported action %T", action))
	}
}

// load reads a record and checks it belongs to the target owner.
func (e *Executor) load(ctx context.Context, op string, entityType models.EntityType, id string, target Target) (models.Record, error) {
	record, err := e.store.FindRecord(ctx, entityType, id)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, engineerr.ActionError(op, engineerr.CodeNotFound, err)
		}

		return nil, engineerr.ActionError(op, engineerr.CodeExecutionFailed, err)
	}

	owner := record.String(models.FieldUserID)
	if owner != "" && target.UserID != "" && owner != target.UserID {
		return nil, engineerr.ActionError(op, engineerr.CodeNotFound,
			fmt.Errorf("%s %s does not belong to user %s", entityType, id, target.UserID))
	}

	return record, nil
}

func (e *Executor) update(ctx context.Context, op string, entityType models.EntityType, id string, changes models.Record) error {
	err := expired(ctx, op)
	if err != nil {
		return err
	}

	_, err = e.store.UpdateRecord(ctx, entityType, id, changes)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return engineerr.ActionError(op, engineerr.CodeNotFound, err)
		}

		return engineerr.ActionError(op, engineerr.CodeExecutionFailed, err)
	}

	return nil
}

// expired stops a handler that Execute already gave up on before it writes anything.
func expired(ctx context.Context, op string) error {
	err := ctx.Err()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return engineerr.ActionError(op, engineerr.CodeTimeout, err)
	default:
		return engineerr.ActionError(op, engineerr.CodeExecutionFailed, err)
	}
}

// resolveContactID picks the contact an action applies to: an explicit id, the enrolled
// contact, or the contact linked to the enrolled deal.
func (e *Executor) resolveContactID(ctx context.Context, op, explicit string, target Target) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	switch target.EntityType {
	case models.EntityContact:
		return target.EntityID, nil
	case models.EntityDeal:
		deal, err := e.load(ctx, op, models.EntityDeal, target.EntityID, target)
		if err != nil {
			return "", err
		}

		contactID := deal.String(models.FieldContactID)
		if contactID == "" {
			return "", engineerr.ActionError(op, engineerr.CodeNotFound,
				fmt.Errorf("deal %s has no contact", target.EntityID))
		}

		return contactID, nil
	default:
		return "", engineerr.ActionError(op, engineerr.CodeInvalidConfig,
			fmt.Errorf("unknown entity type %q", target.EntityType))
	}
}

func (e *Executor) resolveDealID(op, explicit string, target Target) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if target.EntityType != models.EntityDeal {
		return "", engineerr.ActionError(op, engineerr.CodeNotFound,
			fmt.Errorf("%s %s has no deal to act on", target.EntityType, target.EntityID))
	}

	return target.EntityID, nil
}

func (e *Executor) stage(ctx context.Context, op, stageID string, target Target) (*models.Stage, error) {
	stage, err := e.store.StageByID(ctx, stageID)
	if err != nil {
		if errors.Is(err, persistence.ErrStageNotFound) {
			return nil, engineerr.ActionError(op, engineerr.CodeNotFound, err)
		}

		return nil, engineerr.ActionError(op, engineerr.CodeExecutionFailed, err)
	}

	if stage.UserID != target.UserID {
		return nil, engineerr.ActionError(op, engineerr.CodeNotFound,
			fmt.Errorf("stage %s does not belong to user %s", stageID, target.UserID))
	}

	return stage, nil
}
