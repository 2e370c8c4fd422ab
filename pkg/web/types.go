// Package web provides HTTP request and response types for the operator API.
package web

import (
	"github.com/dukex/crmflow/pkg/debugger"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
)

// PublishEventRequest is a CRM event submitted over HTTP.
type PublishEventRequest struct {
	Type   events.EventType `json:"type"   validate:"required,oneof=contact_created contact_updated deal_created deal_updated deal_stage_changed"`
	UserID string           `json:"userId" validate:"required"`
	Data   events.Payload   `json:"data"`
}

// PublishEventResponse acknowledges an accepted event.
type PublishEventResponse struct {
	ID   string           `json:"id"`
	Type events.EventType `json:"type"`
}

// DryRunRequest is the sample a dry run evaluates. An empty event type means the
// automation's own trigger.
type DryRunRequest struct {
	EventType events.EventType `json:"eventType,omitempty" validate:"omitempty,oneof=contact_created contact_updated deal_created deal_updated deal_stage_changed"`
	Data      events.Payload   `json:"data"`
}

// LogsResponse lists execution log entries.
type LogsResponse struct {
	Logs  []*models.ExecutionLogEntry `json:"logs"`
	Count int                         `json:"count"`
}

// SessionResponse lists the buffered debug lines of a session.
type SessionResponse struct {
	SessionID string          `json:"sessionId"`
	Lines     []debugger.Line `json:"lines"`
}
