package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation marks malformed submissions or preference updates.
	// Nothing is persisted when it is returned.
	ErrValidation = errors.New("validation failed")
	// ErrTemplateNotFound is returned when no template is registered for an event type.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrNotFound is returned when a referenced outbox record does not exist.
	ErrNotFound = errors.New("notification not found")
	// ErrRateLimited is returned when the submission budget is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelSlack     Channel = "slack"
	ChannelTeams     Channel = "teams"
	ChannelWebsocket Channel = "websocket"
	ChannelWebhook   Channel = "webhook"
)

// Channels lists every known channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelSlack, ChannelTeams, ChannelWebsocket, ChannelWebhook}
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelSlack, ChannelTeams, ChannelWebsocket, ChannelWebhook:
		return true
	}
	return false
}

// RequiresAddress reports whether delivery on this channel needs a configured
// address or target. The websocket channel has no address concept: it hands
// the notification to the in-process live transport.
func (c Channel) RequiresAddress() bool {
	return c != ChannelWebsocket
}

// EventType is the closed enumeration of notification event kinds.
type EventType string

const (
	EventTaskCreated        EventType = "task_created"
	EventTaskUpdated        EventType = "task_updated"
	EventTaskStatusChanged  EventType = "task_status_changed"
	EventTaskAssigned       EventType = "task_assigned"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskDueSoon        EventType = "task_due_soon"
	EventTaskOverdue        EventType = "task_overdue"
	EventDependencyBlocked  EventType = "dependency_blocked"
	EventDependencyResolved EventType = "dependency_resolved"
	EventMention            EventType = "mention"
	EventDigest             EventType = "digest"
)

// EventTypes lists every known event type in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventTaskCreated, EventTaskUpdated, EventTaskStatusChanged,
		EventTaskAssigned, EventTaskCompleted, EventTaskDueSoon,
		EventTaskOverdue, EventDependencyBlocked, EventDependencyResolved,
		EventMention, EventDigest,
	}
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Deadline reports whether this event type is deadline-related. Default
// preferences enable SMS only for these (and urgent sends).
func (t EventType) Deadline() bool {
	return t == EventTaskDueSoon || t == EventTaskOverdue
}

// Priority orders notifications by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Event is the submission input: a structured occurrence to notify about.
// Title and Message are produced by the composer from the registered template
// for Type, with Data supplying {{placeholder}} values.
type Event struct {
	Type       EventType
	Priority   Priority
	Recipients []string
	// Channels optionally overrides the event type's default channel set.
	// It is the sender's request; per-recipient eligibility still applies.
	Channels []Channel
	Data     map[string]any
	Metadata map[string]string
}

// Notification is a composed, validated notification ready for the outbox.
type Notification struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Priority   Priority          `json:"priority"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Recipients []string          `json:"recipients"`
	Channels   []Channel         `json:"channels"`
	Data       map[string]any    `json:"data,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Validate checks a composed notification before it is queued.
func (n *Notification) Validate() error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, n.Type)
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, n.Priority)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(n.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	for _, r := range n.Recipients {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("%w: empty recipient id", ErrValidation)
		}
	}
	if len(n.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}
	for _, c := range n.Channels {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrValidation, c)
		}
	}
	return nil
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
