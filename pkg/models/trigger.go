package models

import "slices"

// TriggerType is the CRM domain event that makes an automation eligible to enroll an entity.
type TriggerType string

const (
	TriggerContactCreated   TriggerType = "contact_created"
	TriggerContactUpdated   TriggerType = "contact_updated"
	TriggerDealCreated      TriggerType = "deal_created"
	TriggerDealUpdated      TriggerType = "deal_updated"
	TriggerDealStageChanged TriggerType = "deal_stage_changed"
)

// IsValid checks if the trigger type is one of the supported CRM events.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerContactCreated, TriggerContactUpdated,
		TriggerDealCreated, TriggerDealUpdated, TriggerDealStageChanged:
		return true
	default:
		return false
	}
}

// EntityType returns the entity a trigger of this type enrolls.
func (t TriggerType) EntityType() EntityType {
	switch t {
	case TriggerDealCreated, TriggerDealUpdated, TriggerDealStageChanged:
		return EntityDeal
	default:
		return EntityContact
	}
}

// Trigger selects which events an automation reacts to.
type Trigger struct {
	Type   TriggerType    `json:"type"             validate:"required"`
	Config *TriggerConfig `json:"config,omitempty"`
}

// TriggerConfig narrows a trigger. FromStageID/ToStageID apply to deal_stage_changed,
// Fields applies to the *_updated triggers and lists the fields of interest.
type TriggerConfig struct {
	FromStageID string   `json:"fromStageId,omitempty"`
	ToStageID   string   `json:"toStageId,omitempty"`
	Fields      []string `json:"fields,omitempty"`
}

// Trigger mismatch reasons.
const (
	MatchOK              = ""
	MatchWrongType       = "trigger_type_mismatch"
	MatchStageMismatch   = "stage_mismatch"
	MatchFieldsUnchanged = "fields_unchanged"
)

// TriggerEvent is the part of an ingress event a trigger filter looks at.
type TriggerEvent struct {
	Type            TriggerType
	PreviousStageID string
	NewStageID      string
	ChangedFields   []string
}

// Match reports whether an event fires the trigger. The reason is MatchOK on success.
// A stage filter side that is set must equal the event's stage on that side. A field
// filter on an update trigger needs at least one listed field among the changed fields.
func (t Trigger) Match(event TriggerEvent) (bool, string) {
	if t.Type != event.Type {
		return false, MatchWrongType
	}

	if t.Config == nil {
		return true, MatchOK
	}

	if event.Type == TriggerDealStageChanged {
		if t.Config.FromStageID != "" && t.Config.FromStageID != event.PreviousStageID {
			return false, MatchStageMismatch
		}

		if t.Config.ToStageID != "" && t.Config.ToStageID != event.NewStageID {
			return false, MatchStageMismatch
		}
	}

	if (event.Type == TriggerContactUpdated || event.Type == TriggerDealUpdated) && len(t.Config.Fields) > 0 {
		for _, field := range t.Config.Fields {
			if slices.Contains(event.ChangedFields, field) {
				return true, MatchOK
			}
		}

		return false, MatchFieldsUnchanged
	}

	return true, MatchOK
}
