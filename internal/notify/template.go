package notify

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Template is a title/message pair with {{placeholder}} variables.
type Template struct {
	Title   string
	Message string
}

var placeholderRE = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Substitute replaces {{name}} placeholders with values from vars.
// Unknown placeholders are left verbatim; substitution is a best-effort
// text transform, not a validated template engine.
func Substitute(s string, vars map[string]any) string {
	if len(vars) == 0 {
		return s
	}
	return placeholderRE.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-2]
		v, ok := vars[name]
		if !ok {
			return match
		}
		return fmt.Sprint(v)
	})
}

// Composer turns submitted events into notifications by rendering the
// template registered for the event type and filling in default channels.
// The zero value is unusable; use NewComposer.
type Composer struct {
	templates       map[EventType]Template
	defaultChannels map[EventType][]Channel
	clock           Clock
}

func NewComposer(clock Clock) *Composer {
	if clock == nil {
		clock = SystemClock{}
	}
	c := &Composer{
		templates:       map[EventType]Template{},
		defaultChannels: map[EventType][]Channel{},
		clock:           clock,
	}
	c.registerDefaults()
	return c
}

// Register installs or replaces the template for an event type.
func (c *Composer) Register(t EventType, tpl Template) {
	c.templates[t] = tpl
}

// RegisterChannels sets the default channel set used when the sender does not
// request channels explicitly.
func (c *Composer) RegisterChannels(t EventType, channels ...Channel) {
	c.defaultChannels[t] = channels
}

// Compose renders the event into a queue-ready notification. It assigns the
// id and timestamp; validation happens in the service before persistence.
func (c *Composer) Compose(ev Event) (Notification, error) {
	tpl, ok := c.templates[ev.Type]
	if !ok {
		return Notification{}, fmt.Errorf("%w: no template for event type %q", ErrTemplateNotFound, ev.Type)
	}

	priority := ev.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	channels := ev.Channels
	if len(channels) == 0 {
		channels = c.channelsFor(ev.Type)
	}

	return Notification{
		ID:         uuid.NewString(),
		Type:       ev.Type,
		Priority:   priority,
		Title:      Substitute(tpl.Title, ev.Data),
		Message:    Substitute(tpl.Message, ev.Data),
		Recipients: append([]string(nil), ev.Recipients...),
		Channels:   append([]Channel(nil), channels...),
		Data:       ev.Data,
		Metadata:   ev.Metadata,
		CreatedAt:  c.clock.Now().Truncate(time.Millisecond),
	}, nil
}

func (c *Composer) channelsFor(t EventType) []Channel {
	if chs, ok := c.defaultChannels[t]; ok && len(chs) > 0 {
		return chs
	}
	return []Channel{ChannelEmail, ChannelWebsocket}
}

func (c *Composer) registerDefaults() {
	c.templates = map[EventType]Template{
		EventTaskCreated:        {Title: "New task: {{taskTitle}}", Message: "Task {{taskTitle}} was created by {{actor}}"},
		EventTaskUpdated:        {Title: "Task updated: {{taskTitle}}", Message: "Task {{taskTitle}} was updated by {{actor}}"},
		EventTaskStatusChanged:  {Title: "Task {{taskTitle}} is {{taskStatus}}", Message: "Task {{taskTitle}} moved to {{taskStatus}}"},
		EventTaskAssigned:       {Title: "Task assigned: {{taskTitle}}", Message: "{{assignee}} was assigned to {{taskTitle}}"},
		EventTaskCompleted:      {Title: "Task completed: {{taskTitle}}", Message: "Task {{taskTitle}} was completed"},
		EventTaskDueSoon:        {Title: "Due soon: {{taskTitle}}", Message: "Task {{taskTitle}} is due {{dueDate}}"},
		EventTaskOverdue:        {Title: "Overdue: {{taskTitle}}", Message: "Task {{taskTitle}} was due {{dueDate}}"},
		EventDependencyBlocked:  {Title: "Blocked: {{taskTitle}}", Message: "Task {{taskTitle}} is blocked by {{blockerTitle}}"},
		EventDependencyResolved: {Title: "Unblocked: {{taskTitle}}", Message: "Dependency {{blockerTitle}} of {{taskTitle}} was resolved"},
		EventMention:            {Title: "{{actor}} mentioned you", Message: "{{actor}} mentioned you on {{taskTitle}}: {{comment}}"},
		EventDigest:             {Title: "Your {{period}} digest", Message: "{{summary}}"},
	}
	c.defaultChannels = map[EventType][]Channel{
		EventTaskDueSoon: {ChannelEmail, ChannelSMS, ChannelWebsocket},
		EventTaskOverdue: {ChannelEmail, ChannelSMS, ChannelWebsocket},
		EventMention:     {ChannelEmail, ChannelWebsocket},
		EventDigest:      {ChannelEmail},
	}
}
