package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FrequencyBucket groups event types by how often a user wants them delivered.
// Immediate events go through the outbox right away; the others are buffered
// and flushed by the digest scheduler.
type FrequencyBucket string

const (
	FrequencyImmediate FrequencyBucket = "immediate"
	FrequencyHourly    FrequencyBucket = "hourly"
	FrequencyDaily     FrequencyBucket = "daily"
	FrequencyWeekly    FrequencyBucket = "weekly"
)

func (f FrequencyBucket) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// EventSet is the list of event types a channel is subscribed to.
type EventSet []EventType

func (s EventSet) Contains(t EventType) bool {
	for _, e := range s {
		if e == t {
			return true
		}
	}
	return false
}

// ChannelPrefs configures one channel for one user.
//
// Address may be empty only while the channel is disabled or not yet
// configured; an enabled channel with an empty address is silently excluded
// from eligibility rather than treated as an error.
type ChannelPrefs struct {
	Enabled bool     `json:"enabled"`
	Address string   `json:"address,omitempty"`
	Room    string   `json:"room,omitempty"` // chat sub-channel, if the integration uses one
	Events  EventSet `json:"events,omitempty"`
}

// QuietHours is a daily suppression window in the user's local time.
// Start and End are HH:mm strings; Start > End means the window wraps
// midnight. The window is half-open: [Start, End).
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Preferences is the per-user notification configuration. The fixed channel
// set is a struct per channel rather than a keyed map so the compiler keeps
// channel handling exhaustive.
type Preferences struct {
	UserID    string       `json:"userId"`
	Enabled   bool         `json:"enabled"`
	Email     ChannelPrefs `json:"email"`
	SMS       ChannelPrefs `json:"sms"`
	Slack     ChannelPrefs `json:"slack"`
	Teams     ChannelPrefs `json:"teams"`
	Websocket ChannelPrefs `json:"websocket"`
	Webhook   ChannelPrefs `json:"webhook"`

	QuietHours *QuietHours                  `json:"quietHours,omitempty"`
	Frequency  map[FrequencyBucket]EventSet `json:"frequency,omitempty"`
	UpdatedAt  time.Time                    `json:"updatedAt"`
}

// Channel returns the preference block for the given channel.
func (p *Preferences) Channel(c Channel) *ChannelPrefs {
	switch c {
	case ChannelEmail:
		return &p.Email
	case ChannelSMS:
		return &p.SMS
	case ChannelSlack:
		return &p.Slack
	case ChannelTeams:
		return &p.Teams
	case ChannelWebsocket:
		return &p.Websocket
	case ChannelWebhook:
		return &p.Webhook
	}
	return nil
}

// Bucket returns the delivery frequency configured for the event type,
// defaulting to immediate. Digest notifications are always immediate so the
// scheduler cannot feed itself.
func (p *Preferences) Bucket(t EventType) FrequencyBucket {
	if t == EventDigest {
		return FrequencyImmediate
	}
	for bucket, events := range p.Frequency {
		if bucket == FrequencyImmediate {
			continue
		}
		if events.Contains(t) {
			return bucket
		}
	}
	return FrequencyImmediate
}

// DefaultPreferences materializes the preference set stored on first access:
// everything on email and websocket, SMS reserved for urgent deadline events.
// Addresses stay empty until the user configures them, which keeps those
// channels out of eligibility without a special case.
func DefaultPreferences(userID string) *Preferences {
	all := EventSet(EventTypes())
	deadline := EventSet{EventTaskDueSoon, EventTaskOverdue}
	return &Preferences{
		UserID:    userID,
		Enabled:   true,
		Email:     ChannelPrefs{Enabled: true, Events: all},
		SMS:       ChannelPrefs{Enabled: true, Events: deadline},
		Websocket: ChannelPrefs{Enabled: true, Events: all},
	}
}

// Validate checks a preference update. Updates are rejected wholesale on the
// first violation; nothing is partially applied.
func (p *Preferences) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	for _, c := range Channels() {
		cp := p.Channel(c)
		for _, e := range cp.Events {
			if !e.Valid() {
				return fmt.Errorf("%w: %s: unknown event type %q", ErrValidation, c, e)
			}
		}
	}
	if qh := p.QuietHours; qh != nil {
		if _, err := ParseHHMM(qh.Start); err != nil {
			return fmt.Errorf("%w: quietHours.start: %v", ErrValidation, err)
		}
		if _, err := ParseHHMM(qh.End); err != nil {
			return fmt.Errorf("%w: quietHours.end: %v", ErrValidation, err)
		}
		if _, err := time.LoadLocation(qh.Timezone); err != nil {
			return fmt.Errorf("%w: quietHours.timezone: %v", ErrValidation, err)
		}
	}
	for bucket, events := range p.Frequency {
		if !bucket.Valid() {
			return fmt.Errorf("%w: unknown frequency bucket %q", ErrValidation, bucket)
		}
		for _, e := range events {
			if !e.Valid() {
				return fmt.Errorf("%w: frequency.%s: unknown event type %q", ErrValidation, bucket, e)
			}
		}
	}
	return nil
}

// ParseHHMM parses a strict HH:mm string into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid HH:mm value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
