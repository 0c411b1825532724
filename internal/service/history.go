package service

import (
	"context"
	"sort"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
)

// HistoryEntry is one delivery attempt flattened into a per-recipient view.
type HistoryEntry struct {
	NotificationID string           `json:"notificationId"`
	Recipient      string           `json:"recipient"`
	Channel        notify.Channel   `json:"channel"`
	Type           notify.EventType `json:"type"`
	Title          string           `json:"title"`
	Delivered      bool             `json:"delivered"`
	Read           bool             `json:"read"`
	AttemptedAt    time.Time        `json:"attemptedAt"`
}

// Stats aggregates outbox state, optionally scoped to one user's deliveries.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`

	TotalAttempts     int `json:"totalAttempts"`
	DeliveredAttempts int `json:"deliveredAttempts"`
	FailedAttempts    int `json:"failedAttempts"`
}

// GetNotificationHistory flattens delivery attempts into per-recipient
// entries, newest first. An empty userID returns history for everyone.
func (s *Service) GetNotificationHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	records, err := s.store.ListOutbox(ctx, storage.OutboxFilter{Recipient: userID})
	if err != nil {
		return nil, err
	}

	var out []HistoryEntry
	for _, rec := range records {
		for _, d := range rec.Deliveries {
			if userID != "" && d.Recipient != userID {
				continue
			}
			out = append(out, HistoryEntry{
				NotificationID: rec.ID(),
				Recipient:      d.Recipient,
				Channel:        d.Channel,
				Type:           rec.Notification.Type,
				Title:          rec.Notification.Title,
				Delivered:      d.Success,
				Read:           rec.IsReadBy(d.Recipient),
				AttemptedAt:    d.AttemptedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptedAt.After(out[j].AttemptedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationAsRead appends the user to the record's read set. It is
// idempotent and reports whether the record existed.
func (s *Service) MarkNotificationAsRead(ctx context.Context, notificationID, userID string) (bool, error) {
	return s.store.MarkRead(ctx, notificationID, userID)
}

// GetNotificationStats counts records by status and attempts by outcome.
// With a userID, records are limited to ones addressed to that user and
// attempts to that user's deliveries.
func (s *Service) GetNotificationStats(ctx context.Context, userID string) (Stats, error) {
	records, err := s.store.ListOutbox(ctx, storage.OutboxFilter{Recipient: userID})
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, rec := range records {
		st.Total++
		switch rec.Status {
		case notify.StatusPending:
			st.Pending++
		case notify.StatusProcessing:
			st.Processing++
		case notify.StatusSent:
			st.Sent++
		case notify.StatusFailed:
			st.Failed++
		}
		for _, d := range rec.Deliveries {
			if userID != "" && d.Recipient != userID {
				continue
			}
			st.TotalAttempts++
			if d.Success {
				st.DeliveredAttempts++
			} else {
				st.FailedAttempts++
			}
		}
	}
	return st, nil
}
