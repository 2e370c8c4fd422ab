// Package actions implements the CRM mutations an automation can perform.
//
// An authored models.Action is parsed once into one of the concrete kinds below. Each
// kind carries its own validated config, and the Executor dispatches over the closed set
// with a single type switch.
package actions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/engineerr"
	"github.com/dukex/crmflow/pkg/models"
)

// Action is a parsed, validated action. The set of implementations is closed.
type Action interface {
	Type() models.ActionType
	action()
}

// UpdateField sets a top-level field, or a customFields entry when Field is
// "customFields.<name>", on a contact or deal.
type UpdateField struct {
	Kind     models.ActionType `json:"-"`
	Scope    models.EntityType `json:"-"`
	Field    string            `json:"field"              validate:"required"`
	Value    any               `json:"value"`
	EntityID string            `json:"entityId,omitempty"`
}

// AddTag adds a tag to a contact.
type AddTag struct {
	Tag       string `json:"tag"                 validate:"required"`
	ContactID string `json:"contactId,omitempty"`
}

// RemoveTag removes a tag from a contact.
type RemoveTag struct {
	Tag       string `json:"tag"                 validate:"required"`
	ContactID string `json:"contactId,omitempty"`
}

// MoveStage moves a deal to a stage of a sales pipeline.
type MoveStage struct {
	Kind    models.ActionType `json:"-"`
	StageID string            `json:"stageId"          validate:"required"`
	DealID  string            `json:"dealId,omitempty"`
}

// SendEmail renders subject and body against the entity and hands them to the Mailer.
type SendEmail struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"      validate:"required"`
	Body    string `json:"body"         validate:"required"`
}

// UpdateCandidateStatus sets the recruiting status of a contact.
type UpdateCandidateStatus struct {
	Status    string `json:"status"              validate:"required"`
	ContactID string `json:"contactId,omitempty"`
}

// MoveCandidateStage moves a contact to a stage of a candidate pipeline.
type MoveCandidateStage struct {
	StageID   string `json:"stageId"             validate:"required"`
	ContactID string `json:"contactId,omitempty"`
}

// SetCandidateRating rates a candidate from 1 to 5.
type SetCandidateRating struct {
	Rating    int    `json:"rating"              validate:"min=1,max=5"`
	ContactID string `json:"contactId,omitempty"`
}

// AddCandidateNote appends a note to a candidate.
type AddCandidateNote struct {
	Note      string `json:"note"                validate:"required"`
	ContactID string `json:"contactId,omitempty"`
}

// SetInterviewDate schedules the interview of a candidate.
type SetInterviewDate struct {
	Date      time.Time `json:"date"                validate:"required"`
	ContactID string    `json:"contactId,omitempty"`
}

// AssignPosition links a candidate to an open position.
type AssignPosition struct {
	PositionID string `json:"positionId"          validate:"required"`
	ContactID  string `json:"contactId,omitempty"`
}

func (a *UpdateField) Type() models.ActionType { return a.Kind }
func (*AddTag) Type() models.ActionType { return models.ActionAddContactTag }
func (*RemoveTag) Type() models.ActionType { return models.ActionRemoveContactTag }
func (a *MoveStage) Type() models.ActionType { return a.Kind }
func (*SendEmail) Type() models.ActionType { return models.ActionSendEmail }
func (*UpdateCandidateStatus) Type() models.ActionType { return models.ActionUpdateCandidateStatus }
func (*MoveCandidateStage) Type() models.ActionType { return models.ActionMoveCandidateStage }
func (*SetCandidateRating) Type() models.ActionType { return models.ActionSetCandidateRating }
func (*AddCandidateNote) Type() models.ActionType { return models.ActionAddCandidateNote }
func (*SetInterviewDate) Type() models.ActionType { return models.ActionSetInterviewDate }
func (*AssignPosition) Type() models.ActionType { return models.ActionAssignPosition }
func (*UpdateField) action() {}
func (*AddTag) action() {}
func (*RemoveTag) action() {}
func (*MoveStage) action() {}
func (*SendEmail) action() {}
func (*UpdateCandidateStatus) action() {}
func (*MoveCandidateStage) action() {}
func (*SetCandidateRating) action() {}
func (*AddCandidateNote) action() {}
func (*SetInterviewDate) action() {}
func (*AssignPosition) action() {}

// Parse validates an authored action against its JSON schema and struct rules and
// returns the concrete kind. Every failure is an invalid_config ActionError.
func Parse(raw models.Action) (Action, error) {
	var target Action

	switch raw.Type {
	case models.ActionUpdateField:
		target = &UpdateField{Kind: raw.Type}
	case models.ActionUpdateContactField:
		target = &UpdateField{Kind: raw.Type, Scope: models.EntityContact}
	case models.ActionUpdateDealField:
		target = &UpdateField{Kind: raw.Type, Scope: models.EntityDeal}
	case models.ActionAddContactTag:
		target = &AddTag{}
	case models.ActionRemoveContactTag:
		target = &RemoveTag{}
	case models.ActionUpdateDealStage, models.ActionMoveDealToStage:
		target = &MoveStage{Kind: raw.Type}
	case models.ActionSendEmail:
		target = &SendEmail{}
	case models.ActionUpdateCandidateStatus:
		target = &UpdateCandidateStatus{}
	case models.ActionMoveCandidateStage:
		target = &MoveCandidateStage{}
	case models.ActionSetCandidateRating:
		target = &SetCandidateRating{}
	case models.ActionAddCandidateNote:
		target = &AddCandidateNote{}
	case models.ActionSetInterviewDate:
		target = &SetInterviewDate{}
	case models.ActionAssignPosition:
		target = &AssignPosition{}
	default:
		return nil, engineerr.ActionError(string(raw.Type), engineerr.CodeInvalidConfig,
			fmt.Errorf("unknown action type %q", raw.Type))
	}

	config := raw.Config
	if config == nil {
		config = map[string]any{}
	}

	err := validateSchema(raw.Type, config)
	if err != nil {
		return nil, engineerr.ActionError(string(raw.Type), engineerr.CodeInvalidConfig, err)
	}

	data, err := json.Marshal(config)
	if err != nil {
		return nil, engineerr.ActionError(string(raw.Type), engineerr.CodeInvalidConfig, err)
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return nil, engineerr.ActionError(string(raw.Type), engineerr.CodeInvalidConfig, err)
	}

	err = models.Validator().Struct(target)
	if err != nil {
		return nil, engineerr.ActionError(string(raw.Type), engineerr.CodeInvalidConfig, err)
	}

	return target, nil
}

// ParseAll parses a batch, stopping at the first invalid action.
func ParseAll(raw []models.Action) ([]Action, error) {
	parsed := make([]Action, 0, len(raw))

	for i, action := range raw {
		p, err := Parse(action)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}

		parsed = append(parsed, p)
	}

	return parsed, nil
}
