// Package eventbus provides the typed publish/subscribe bus between the CRM layer and the engine.
package eventbus

import (
	"context"
	"errors"

	"github.com/dukex/crmflow/pkg/events"
)

// DefaultMaxHandlers bounds the handlers registered per event type.
const DefaultMaxHandlers = 8

var ErrTooManySubscribers = errors.New("too many subscribers for event type")

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
