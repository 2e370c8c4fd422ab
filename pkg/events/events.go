// Package events defines the CRM ingress events and the enrollment lifecycle notifications.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the single topic carrying every event; handlers route on EventTypeMetadataKey.
const Topic = "crmflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// CRM ingress events, published by the CRUD layer.
	ContactCreatedEvent   EventType = EventType(models.TriggerContactCreated)
	ContactUpdatedEvent   EventType = EventType(models.TriggerContactUpdated)
	DealCreatedEvent      EventType = EventType(models.TriggerDealCreated)
	DealUpdatedEvent      EventType = EventType(models.TriggerDealUpdated)
	DealStageChangedEvent EventType = EventType(models.TriggerDealStageChanged)

	// Enrollment lifecycle events, published by the engine.
	EnrollmentCreatedEvent    EventType = "enrollment.created"
	EnrollmentCompletedEvent  EventType = "enrollment.completed"
	EnrollmentFailedEvent     EventType = "enrollment.failed"
	EnrollmentUnenrolledEvent EventType = "enrollment.unenrolled"
)

var ErrInvalidEvent = errors.New("invalid event")

// IsIngress reports whether the type is one of the CRM entity events.
func (t EventType) IsIngress() bool {
	return models.TriggerType(t).IsValid()
}

// IsLifecycle reports whether the type is an enrollment lifecycle event.
func (t EventType) IsLifecycle() bool {
	switch t {
	case EnrollmentCreatedEvent, EnrollmentCompletedEvent, EnrollmentFailedEvent, EnrollmentUnenrolledEvent:
		return true
	default:
		return false
	}
}

// TriggerType maps an ingress event to the trigger it fires.
func (t EventType) TriggerType() models.TriggerType {
	return models.TriggerType(t)
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newBaseEvent(eventType EventType, at time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at.UTC(),
	}
}

// Payload carries the entity snapshots of a CRM event. Stage changes fill PreviousStage and
// NewStage; updates may list ChangedFields.
type Payload struct {
	Contact       models.Record `json:"contact,omitempty"`
	Deal          models.Record `json:"deal,omitempty"`
	PreviousStage models.Record `json:"previousStage,omitempty"`
	NewStage      models.Record `json:"newStage,omitempty"`
	ChangedFields []string      `json:"changedFields,omitempty"`
}

// Entity returns the snapshot the trigger enrolls: the deal for deal events, the contact otherwise.
func (p Payload) Entity(trigger models.TriggerType) models.Record {
	if trigger.EntityType() == models.EntityDeal {
		return p.Deal
	}

	return p.Contact
}

// TriggerEvent extracts what trigger filters look at.
func (p Payload) TriggerEvent(trigger models.TriggerType) models.TriggerEvent {
	return models.TriggerEvent{
		Type:            trigger,
		PreviousStageID: p.PreviousStage.ID(),
		NewStageID:      p.NewStage.ID(),
		ChangedFields:   p.ChangedFields,
	}
}

// EntityEvent is a CRM ingress event.
type EntityEvent struct {
	BaseEvent

	UserID string  `json:"userId"`
	Data   Payload `json:"data"`
}

func NewEntityEvent(eventType EventType, userID string, data Payload) *EntityEvent {
	return &EntityEvent{
		BaseEvent: newBaseEvent(eventType, time.Now()),
		UserID:    userID,
		Data:      data,
	}
}

func (e EntityEvent) GetType() EventType {
	return e.Type
}

// Validate checks the event names a known type, an owner and the entity its trigger needs.
func (e EntityEvent) Validate() error {
	if !e.Type.IsIngress() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}

	if e.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	}

	entity := e.Data.Entity(e.Type.TriggerType())
	if entity.ID() == "" {
		return fmt.Errorf("%w: %s payload without %s id", ErrInvalidEvent, e.Type, e.Type.TriggerType().EntityType())
	}

	return nil
}

// EnrollmentEvent reports an enrollment entering a new status.
type EnrollmentEvent struct {
	BaseEvent

	EnrollmentID string                  `json:"enrollmentId"`
	AutomationID string                  `json:"automationId"`
	UserID       string                  `json:"userId"`
	EntityType   models.EntityType       `json:"entityType"`
	EntityID     string                  `json:"entityId"`
	Status       models.EnrollmentStatus `json:"status"`
	ExitReason   string                  `json:"exitReason,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

func (e EnrollmentEvent) GetType() EventType {
	return e.Type
}

// NewEnrollmentEvent builds the lifecycle event matching the enrollment's status.
func NewEnrollmentEvent(enrollment *models.Enrollment, at time.Time) *EnrollmentEvent {
	return &EnrollmentEvent{
		BaseEvent:    newBaseEvent(LifecycleType(enrollment.Status), at),
		EnrollmentID: enrollment.ID,
		AutomationID: enrollment.AutomationID,
		UserID:       enrollment.UserID,
		EntityType:   enrollment.EntityType,
		EntityID:     enrollment.EntityID,
		Status:       enrollment.Status,
		ExitReason:   enrollment.ExitReason,
		Error:        enrollment.Error,
	}
}

// LifecycleType maps an enrollment status to its event type.
func LifecycleType(status models.EnrollmentStatus) EventType {
	switch status {
	case models.EnrollmentCompleted:
		return EnrollmentCompletedEvent
	case models.EnrollmentFailed:
		return EnrollmentFailedEvent
	case models.EnrollmentUnenrolled:
		return EnrollmentUnenrolledEvent
	default:
		return EnrollmentCreatedEvent
	}
}
