package notify

import "time"

// Status is the lifecycle state of an outbox record.
//
// Transitions are monotonic except the single processing -> pending retry
// edge: pending -> processing -> {sent | failed | pending(retry)}.
// Sent and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic processing happens.
func (s Status) Terminal() bool { return s == StatusSent || s == StatusFailed }

// DeliveryAttempt records one (recipient, channel) delivery try.
// Immutable once created; the list on a record is the audit trail.
type DeliveryAttempt struct {
	ID                string    `json:"id"`
	NotificationID    string    `json:"notificationId"`
	Recipient         string    `json:"recipient"`
	Channel           Channel   `json:"channel"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	AttemptedAt       time.Time `json:"attemptedAt"`
}

// OutboxRecord wraps one notification with its delivery state. Attempts only
// increases and Deliveries only grows; records are never deleted by the
// engine (retention is an external maintenance concern).
type OutboxRecord struct {
	Notification Notification `json:"notification"`

	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`

	ReadBy     []string          `json:"readByUserIds,omitempty"`
	Deliveries []DeliveryAttempt `json:"deliveries,omitempty"`
}

// ID returns the wrapped notification's id, which keys the record.
func (r *OutboxRecord) ID() string { return r.Notification.ID }

// Due reports whether the record is ready to be claimed at the given time.
func (r *OutboxRecord) Due(now time.Time) bool {
	if r.Status != StatusPending {
		return false
	}
	return r.NextAttemptAt == nil || !r.NextAttemptAt.After(now)
}

// ReadBy reports whether the user already marked the notification as read.
func (r *OutboxRecord) IsReadBy(userID string) bool {
	for _, id := range r.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep enough copy that callers can mutate safely.
func (r *OutboxRecord) Clone() *OutboxRecord {
	cp := *r
	cp.ReadBy = append([]string(nil), r.ReadBy...)
	cp.Deliveries = append([]DeliveryAttempt(nil), r.Deliveries...)
	if r.NextAttemptAt != nil {
		t := *r.NextAttemptAt
		cp.NextAttemptAt = &t
	}
	if r.SentAt != nil {
		t := *r.SentAt
		cp.SentAt = &t
	}
	if r.FailedAt != nil {
		t := *r.FailedAt
		cp.FailedAt = &t
	}
	return &cp
}
