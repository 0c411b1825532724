package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notifyd/internal/notify"
)

// memoryStore keeps everything in process. All methods copy records on the
// way in and out so callers never share mutable state with the store.
type memoryStore struct {
	mu     sync.Mutex
	outbox map[string]*notify.OutboxRecord
	prefs  map[string]*notify.Preferences
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		outbox: map[string]*notify.OutboxRecord{},
		prefs:  map[string]*notify.Preferences{},
	}
}

func (s *memoryStore) CreateOutbox(_ context.Context, rec *notify.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if _, ok := s.outbox[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	s.outbox[id] = rec.Clone()
	return nil
}

func (s *memoryStore) GetOutbox(_ context.Context, id string) (*notify.OutboxRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[id]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *memoryStore) ListOutbox(_ context.Context, f OutboxFilter) ([]*notify.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*notify.OutboxRecord
	for _, rec := range s.outbox {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Recipient != "" && !hasRecipient(rec, f.Recipient) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*notify.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*notify.OutboxRecord
	for _, rec := range s.outbox {
		if rec.Due(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*notify.OutboxRecord, 0, len(due))
	for _, rec := range due {
		rec.Status = notify.StatusProcessing
		rec.UpdatedAt = now
		claimed = append(claimed, rec.Clone())
	}
	return claimed, nil
}

func (s *memoryStore) UpdateOutbox(_ context.Context, rec *notify.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := rec.ID()
	if _, ok := s.outbox[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.outbox[id] = rec.Clone()
	return nil
}

func (s *memoryStore) MarkRead(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[id]
	if !ok {
		return false, nil
	}
	if !rec.IsReadBy(userID) {
		rec.ReadBy = append(rec.ReadBy, userID)
	}
	return true, nil
}

func (s *memoryStore) GetPreferences(_ context.Context, userID string) (*notify.Preferences, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (s *memoryStore) PutPreferences(_ context.Context, p *notify.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.prefs[p.UserID] = &cp
	return nil
}

func (s *memoryStore) Close() error { return nil }

func hasRecipient(rec *notify.OutboxRecord, userID string) bool {
	for _, r := range rec.Notification.Recipients {
		if r == userID {
			return true
		}
	}
	return false
}
