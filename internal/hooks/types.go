// Package hooks provides an event-driven extension point for turn processing.
// Pipeline stages and the memory subsystem publish events here; handlers
// registered against an event type run in priority order.
package hooks

import (
	"context"
	"time"

	"github.com/kestrelai/conductor/pkg/models"
)

// EventType identifies the category of hook event.
type EventType string

const (
	// Message events
	EventMessageReceived  EventType = "message.received"
	EventMessageProcessed EventType = "message.processed"
	EventMessageSent      EventType = "message.sent"

	// Session events
	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"
	EventSessionEnded   EventType = "session.ended"

	// Tool events
	EventToolCalled    EventType = "tool.called"
	EventToolCompleted EventType = "tool.completed"

	// Turn/agent events
	EventAgentStarted   EventType = "agent.started"
	EventAgentCompleted EventType = "agent.completed"
	EventAgentError     EventType = "agent.error"
)

// Event represents a hook event with context and payload.
type Event struct {
	Type EventType `json:"type"`

	// Action is a specific sub-action within the type (optional).
	Action string `json:"action,omitempty"`

	SessionKey  string             `json:"session_key,omitempty"`
	ChannelID   string             `json:"channel_id,omitempty"`
	ChannelType models.ChannelType `json:"channel_type,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`

	Message  *models.Message   `json:"message,omitempty"`
	Messages []*models.Message `json:"messages,omitempty"`

	Context map[string]any `json:"context,omitempty"`

	Error    error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// Handler processes a hook event. Handlers should be fast and non-blocking;
// long-running work should be dispatched to a goroutine.
type Handler func(ctx context.Context, event *Event) error

// Priority determines the order handlers are called in. Lower runs earlier.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration represents a registered hook handler.
type Registration struct {
	ID       string
	EventKey string
	Handler  Handler
	Priority Priority
	Name     string
	Source   string
}

// NewEvent creates a new event with its timestamp set.
func NewEvent(eventType EventType, action string) *Event {
	return &Event{
		Type:      eventType,
		Action:    action,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithSession sets the session key on the event.
func (e *Event) WithSession(sessionKey string) *Event {
	e.SessionKey = sessionKey
	return e
}

// WithChannel sets the channel info on the event.
func (e *Event) WithChannel(channelID string, channelType models.ChannelType) *Event {
	e.ChannelID = channelID
	e.ChannelType = channelType
	return e
}

// WithMessage sets the message on the event.
func (e *Event) WithMessage(msg *models.Message) *Event {
	e.Message = msg
	return e
}

// WithContext adds a context entry to the event.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithError records an error on the event.
func (e *Event) WithError(err error) *Event {
	e.Error = err
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}
