package storage

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/notify"
)

var (
	// ErrDuplicate is returned when creating a record whose id already exists.
	ErrDuplicate = errors.New("storage: duplicate record id")
	// ErrNotFound is returned by updates targeting a missing record.
	ErrNotFound = errors.New("storage: record not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map store (default when empty)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OutboxFilter narrows ListOutbox results. Zero values mean "no filter".
type OutboxFilter struct {
	Status    notify.Status
	Recipient string
	Limit     int
}

// Store is the persistence API used by the engine and service.
//
// ClaimDue is the one operation with check-and-set semantics: it must flip
// matched records from pending to processing before returning them, so a
// concurrent tick cannot claim the same record twice.
type Store interface {
	CreateOutbox(ctx context.Context, rec *notify.OutboxRecord) error
	GetOutbox(ctx context.Context, id string) (*notify.OutboxRecord, bool, error)
	ListOutbox(ctx context.Context, f OutboxFilter) ([]*notify.OutboxRecord, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*notify.OutboxRecord, error)
	UpdateOutbox(ctx context.Context, rec *notify.OutboxRecord) error
	MarkRead(ctx context.Context, id, userID string) (bool, error)

	GetPreferences(ctx context.Context, userID string) (*notify.Preferences, bool, error)
	PutPreferences(ctx context.Context, p *notify.Preferences) error

	Close() error
}
