package actions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// Candidate fields kept on the contact record.
const (
	FieldCandidateStatus  = "candidateStatus"
	FieldCandidateStageID = "candidateStageId"
	FieldCandidateRating  = "candidateRating"
	FieldCandidateNotes   = "candidateNotes"
	FieldInterviewDate    = "interviewDate"
	FieldPositionID       = "positionId"
)

func (e *Executor) moveDealStage(ctx context.Context, a *MoveStage, target Target) error {
	op := string(a.Kind)

	dealID, err := e.resolveDealID(op, a.DealID, target)
	if err != nil {
		return err
	}

	stage, err := e.stage(ctx, op, a.StageID, target)
	if err != nil {
		return err
	}

	if stage.PipelineType != "" && stage.PipelineType != models.PipelineSales {
		return engineerr.ActionError(op, engineerr.CodeInvalidConfig,
			fmt.Errorf("stage %s belongs to a %s pipeline", stage.ID, stage.PipelineType))
	}

	deal, err := e.load(ctx, op, models.EntityDeal, dealID, target)
	if err != nil {
		return err
	}

	if deal.String(models.FieldStageID) == stage.ID {
		return nil
	}

	return e.update(ctx, op, models.EntityDeal, dealID, models.Record{models.FieldStageID: stage.ID})
}

// setCandidateField writes one candidate field when it differs from the stored value.
func (e *Executor) setCandidateField(ctx context.Context, op, explicit string, target Target, field string, value any) error {
	contactID, err := e.resolveContactID(ctx, op, explicit, target)
	if err != nil {
		return err
	}

	contact, err := e.load(ctx, op, models.EntityContact, contactID, target)
	if err != nil {
		return err
	}

	if current, ok := contact[field]; ok && fmt.Sprint(current) == fmt.Sprint(value) {
		return nil
	}

	return e.update(ctx, op, models.EntityContact, contactID, models.Record{field: value})
}

func (e *Executor) updateCandidateStatus(ctx context.Context, a *UpdateCandidateStatus, target Target) error {
	return e.setCandidateField(ctx, string(models.ActionUpdateCandidateStatus), a.ContactID, target, FieldCandidateStatus, a.Status)
}

func (e *Executor) moveCandidateStage(ctx context.Context, a *MoveCandidateStage, target Target) error {
	op := string(models.ActionMoveCandidateStage)

	stage, err := e.stage(ctx, op, a.StageID, target)
	if err != nil {
		return err
	}

	if stage.PipelineType != models.PipelineCandidate {
		return engineerr.ActionError(op, engineerr.CodeInvalidConfig,
			fmt.Errorf("stage %s is not a candidate pipeline stage", stage.ID))
	}

	return e.setCandidateField(ctx, op, a.ContactID, target, FieldCandidateStageID, stage.ID)
}

func (e *Executor) setCandidateRating(ctx context.Context, a *SetCandidateRating, target Target) error {
	return e.setCandidateField(ctx, string(models.ActionSetCandidateRating), a.ContactID, target, FieldCandidateRating, a.Rating)
}

func (e *Executor) setInterviewDate(ctx context.Context, a *SetInterviewDate, target Target) error {
	return e.setCandidateField(ctx, string(models.ActionSetInterviewDate), a.ContactID, target,
		FieldInterviewDate, a.Date.UTC().Format(time.RFC3339))
}

func (e *Executor) addCandidateNote(ctx context.Context, a *AddCandidateNote, target Target) error {
	op := string(models.ActionAddCandidateNote)

	contactID, err := e.resolveContactID(ctx, op, a.ContactID, target)
	if err != nil {
		return err
	}

	contact, err := e.load(ctx, op, models.EntityContact, contactID, target)
	if err != nil {
		return err
	}

	notes := models.StringSlice(contact[FieldCandidateNotes])
	if slices.Contains(notes, a.Note) {
		return nil
	}

	return e.update(ctx, op, models.EntityContact, contactID, models.Record{FieldCandidateNotes: append(notes, a.Note)})
}

func (e *Executor) assignPosition(ctx context.Context, a *AssignPosition, target Target) error {
	op := string(models.ActionAssignPosition)

	position, err := e.store.PositionByID(ctx, a.PositionID)
	if err != nil {
		if errors.Is(err, persistence.ErrPositionNotFound) {
			return engineerr.ActionError(op, engineerr.CodeNotFound, err)
		}

		return engineerr.ActionError(op, engineerr.CodeExecutionFailed, err)
	}

	if position.UserID != target.UserID {
		return engineerr.ActionError(op, engineerr.CodeNotFound,
			fmt.Errorf("position %s does not belong to user %s", a.PositionID, target.UserID))
	}

	return e.setCandidateField(ctx, op, a.ContactID, target, FieldPositionID, position.ID)
}
