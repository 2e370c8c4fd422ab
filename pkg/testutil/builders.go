// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"maps"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestAutomation creates an active single-step contact_created automation that tags
// the contact with "welcomed". Overrides are applied in order.
func CreateTestAutomation(overrides ...func(*models.Automation)) *models.Automation {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	automation := &models.Automation{
		ID:        uuid.New().String(),
		UserID:    "u1",
		Name:      "Test Automation",
		Trigger:   models.Trigger{Type: models.TriggerContactCreated},
		Actions:   []models.Action{AddTag("welcomed")},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

// WithID sets the automation ID.
func WithID(id string) func(*models.Automation) {
	return func(a *models.Automation) {
		a.ID = id
	}
}

// WithUser sets the owning user.
func WithUser(userID string) func(*models.Automation) {
	return func(a *models.Automation) {
		a.UserID = userID
	}
}

// WithTrigger sets the trigger type and optional filter.
func WithTrigger(triggerType models.TriggerType, config *models.TriggerConfig) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Trigger = models.Trigger{Type: triggerType, Config: config}
	}
}

// WithConditions sets the entry conditions.
func WithConditions(conditions ...models.Condition) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Conditions = conditions
	}
}

// WithActions sets the single-step actions.
func WithActions(actions ...models.Action) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Actions = actions
	}
}

// WithSteps turns the automation into a multi-step one.
func WithSteps(steps ...models.AutomationStep) func(*models.Automation) {
	return func(a *models.Automation) {
		a.IsMultiStep = true
		a.Steps = steps
		a.Actions = nil
	}
}

// WithExitCriteria sets goals, exit conditions and safety config.
func WithExitCriteria(criteria *models.ExitCriteria) func(*models.Automation) {
	return func(a *models.Automation) {
		a.ExitCriteria = criteria
	}
}

// WithActive sets the active flag.
func WithActive(active bool) func(*models.Automation) {
	return func(a *models.Automation) {
		a.IsActive = active
	}
}

// ActionStep builds an action step pointing at next, or terminal when next is negative.
func ActionStep(index, next int, actions ...models.Action) models.AutomationStep {
	return models.AutomationStep{StepIndex: index, Type: models.StepTypeAction, Actions: actions, NextStepIndex: successor(next)}
}

// DelayStep builds a delay step.
func DelayStep(index, next, value int, unit models.DelayUnit) models.AutomationStep {
	return models.AutomationStep{
		StepIndex:     index,
		Type:          models.StepTypeDelay,
		DelayConfig:   &models.DelayConfig{Value: value, Unit: unit},
		NextStepIndex: successor(next),
	}
}

// ConditionStep builds a condition step; falseNext routes the "false" outcome, negative for none.
func ConditionStep(index, next, falseNext int, conditions ...models.Condition) models.AutomationStep {
	step := models.AutomationStep{
		StepIndex:     index,
		Type:          models.StepTypeCondition,
		Conditions:    conditions,
		NextStepIndex: successor(next),
	}

	if falseNext >= 0 {
		step.BranchStepIndices = map[string]int{models.BranchFalse: falseNext}
	}

	return step
}

// BranchStep builds a branch step routing branch names to step indices.
func BranchStep(index int, config *models.BranchConfig, routes map[string]int) models.AutomationStep {
	return models.AutomationStep{
		StepIndex:         index,
		Type:              models.StepTypeBranch,
		BranchConfig:      config,
		BranchStepIndices: routes,
	}
}

// AddTag builds an add_contact_tag action.
func AddTag(tag string) models.Action {
	return models.Action{Type: models.ActionAddContactTag, Config: map[string]any{"tag": tag}}
}

// UpdateContactField builds an update_contact_field action.
func UpdateContactField(field string, value any) models.Action {
	return models.Action{Type: models.ActionUpdateContactField, Config: map[string]any{"field": field, "value": value}}
}

// Equals builds an equals condition.
func Equals(field string, value any) models.Condition {
	return models.Condition{Field: field, Operator: models.OperatorEquals, Value: value}
}

// Contact builds a contact record owned by u1.
func Contact(id string, fields map[string]any) models.Record {
	record := models.Record{models.FieldID: id, models.FieldUserID: "u1"}
	maps.Copy(record, fields)

	return record
}

func successor(next int) *int {
	if next < 0 {
		return nil
	}

	return &next
}
