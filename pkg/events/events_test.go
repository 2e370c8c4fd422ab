package events_test

import (
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypes(t *testing.T) {
	t.Parallel()

	assert.True(t, events.DealStageChangedEvent.IsIngress())
	assert.False(t, events.DealStageChangedEvent.IsLifecycle())
	assert.True(t, events.EnrollmentFailedEvent.IsLifecycle())
	assert.False(t, events.EnrollmentFailedEvent.IsIngress())
	assert.Equal(t, models.TriggerContactUpdated, events.ContactUpdatedEvent.TriggerType())
}

func TestEntityEventValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		event   *events.EntityEvent
		wantErr bool
	}{
		{
			name:  "contact event",
			event: events.NewEntityEvent(events.ContactCreatedEvent, "user-1", events.Payload{Contact: models.Record{"id": "c-1"}}),
		},
		{
			name:  "deal event",
			event: events.NewEntityEvent(events.DealStageChangedEvent, "user-1", events.Payload{Deal: models.Record{"id": "d-1"}}),
		},
		{
			name:    "deal event carrying only a contact",
			event:   events.NewEntityEvent(events.DealCreatedEvent, "user-1", events.Payload{Contact: models.Record{"id": "c-1"}}),
			wantErr: true,
		},
		{
			name:    "missing owner",
			event:   events.NewEntityEvent(events.ContactCreatedEvent, "", events.Payload{Contact: models.Record{"id": "c-1"}}),
			wantErr: true,
		},
		{
			name:    "lifecycle type is not ingress",
			event:   events.NewEntityEvent(events.EnrollmentCreatedEvent, "user-1", events.Payload{Contact: models.Record{"id": "c-1"}}),
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.event.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, events.ErrInvalidEvent)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewEnrollmentEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	enrollment := &models.Enrollment{
		ID:           "e-1",
		AutomationID: "a-1",
		UserID:       "user-1",
		EntityType:   models.EntityContact,
		EntityID:     "c-1",
		Status:       models.EnrollmentFailed,
		Error:        "boom",
	}

	event := events.NewEnrollmentEvent(enrollment, at)

	assert.Equal(t, events.EnrollmentFailedEvent, event.GetType())
	assert.Equal(t, "boom", event.Error)
	assert.Equal(t, at, event.Timestamp)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, events.EnrollmentCreatedEvent, events.LifecycleType(models.EnrollmentActive))
}
