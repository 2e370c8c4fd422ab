package models

// ActionType identifies a mutation handler.
type ActionType string

const (
	ActionUpdateField           ActionType = "update_field"
	ActionUpdateContactField    ActionType = "update_contact_field"
	ActionUpdateDealField       ActionType = "update_deal_field"
	ActionAddContactTag         ActionType = "add_contact_tag"
	ActionRemoveContactTag      ActionType = "remove_contact_tag"
	ActionUpdateDealStage       ActionType = "update_deal_stage"
	ActionMoveDealToStage       ActionType = "move_deal_to_stage"
	ActionSendEmail             ActionType = "send_email"
	ActionUpdateCandidateStatus ActionType = "update_candidate_status"
	ActionMoveCandidateStage    ActionType = "move_candidate_stage"
	ActionSetCandidateRating    ActionType = "set_candidate_rating"
	ActionAddCandidateNote      ActionType = "add_candidate_note"
	ActionSetInterviewDate      ActionType = "set_interview_date"
	ActionAssignPosition        ActionType = "assign_position"
)

// Action is the authored, untyped form of an action: a type plus its config bag.
type Action struct {
	Type   ActionType     `json:"type"   validate:"required"`
	Config map[string]any `json:"config"`
}

// ActionStatus is the outcome of one action inside an execution pass.
type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailed  ActionStatus = "failed"
	ActionStatusSkipped ActionStatus = "skipped"
)

// ActionResult records one executed (or aborted) action.
type ActionResult struct {
	Action Action       `json:"action"`
	Status ActionStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}
