package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single
	// connection also makes the pending -> processing claim flip safe by
	// construction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateOutbox(ctx context.Context, rec *notify.OutboxRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outbox(id, status, next_attempt_at, created_at, body) VALUES(?,?,?,?,?)`,
		rec.ID(), string(rec.Status), nullMillis(rec.NextAttemptAt), rec.CreatedAt.UnixMilli(), string(body),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID())
	}
	return err
}

func (s *sqliteStore) GetOutbox(ctx context.Context, id string) (*notify.OutboxRecord, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM outbox WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) ListOutbox(ctx context.Context, f OutboxFilter) ([]*notify.OutboxRecord, error) {
	q := `SELECT body FROM outbox`
	var args []any
	if f.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notify.OutboxRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(body)
		if err != nil {
			// A corrupt row should not hide the rest of the outbox.
			s.log.Warn("skipping undecodable outbox row", logx.Err(err))
			continue
		}
		if f.Recipient != "" && !hasRecipient(rec, f.Recipient) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*notify.OutboxRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT body FROM outbox
	      WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	      ORDER BY created_at ASC`
	args := []any{string(notify.StatusPending), now.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var due []*notify.OutboxRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			rows.Close()
			return nil, err
		}
		rec, err := decodeRecord(body)
		if err != nil {
			s.log.Warn("skipping undecodable outbox row", logx.Err(err))
			continue
		}
		due = append(due, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimed := make([]*notify.OutboxRecord, 0, len(due))
	for _, rec := range due {
		rec.Status = notify.StatusProcessing
		rec.UpdatedAt = now
		body, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE outbox SET status = ?, body = ? WHERE id = ? AND status = ?`,
			string(notify.StatusProcessing), string(body), rec.ID(), string(notify.StatusPending),
		)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, rec)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *sqliteStore) UpdateOutbox(ctx context.Context, rec *notify.OutboxRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, next_attempt_at = ?, body = ? WHERE id = ?`,
		string(rec.Status), nullMillis(rec.NextAttemptAt), string(body), rec.ID(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID())
	}
	return nil
}

func (s *sqliteStore) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT body FROM outbox WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return false, err
	}
	if rec.IsReadBy(userID) {
		return true, nil
	}
	rec.ReadBy = append(rec.ReadBy, userID)
	updated, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE outbox SET body = ? WHERE id = ?`, string(updated), id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *sqliteStore) GetPreferences(ctx context.Context, userID string) (*notify.Preferences, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM preferences WHERE user_id = ?`, userID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p notify.Preferences
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (s *sqliteStore) PutPreferences(ctx context.Context, p *notify.Preferences) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO preferences(user_id, body) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET body=excluded.body`,
		p.UserID, string(body),
	)
	return err
}

func decodeRecord(body string) (*notify.OutboxRecord, error) {
	var rec notify.OutboxRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
