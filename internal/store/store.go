// Package store keeps a local sqlite journal of deliveries and the run lock.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/postcast/internal/delivery"
)

// ErrLocked is returned by AcquireLock when another owner holds a live lease.
var ErrLocked = errors.New("another run holds the lock")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Delivery is one journal row.
type Delivery struct {
	ID          int64
	Channel     string
	EventType   string
	PayloadID   string
	PayloadDate string
	Trigger     delivery.Trigger
	DeliveredAt time.Time
}

// Tag returns the tag the delivery was posted with.
func (d Delivery) Tag() delivery.Tag {
	return delivery.Tag{EventType: d.EventType, ID: d.PayloadID, Date: d.PayloadDate, Trigger: d.Trigger}
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends an accepted post to the journal.
func (s *Store) Record(ctx context.Context, channel string, tag delivery.Tag) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(channel) == "" {
		return errors.New("channel is required")
	}
	if strings.TrimSpace(tag.EventType) == "" {
		return errors.New("event_type is required")
	}
	if tag.Trigger == "" {
		return errors.New("action_trigger is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (channel, event_type, payload_id, payload_date, action_trigger, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, channel, tag.EventType, tag.ID, tag.Date, string(tag.Trigger), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// LastCursor returns the newest scheduled delivery for channel and eventType.
func (s *Store) LastCursor(ctx context.Context, channel, eventType string) (delivery.Cursor, error) {
	if s == nil || s.db == nil {
		return delivery.Cursor{}, errors.New("store is not initialized")
	}

	var c delivery.Cursor
	err := s.db.QueryRowContext(ctx, `
		SELECT payload_id, payload_date
		FROM deliveries
		WHERE channel = ? AND event_type = ? AND action_trigger = ?
			AND (payload_id != '' OR payload_date != '')
		ORDER BY id DESC
		LIMIT 1
	`, channel, eventType, string(delivery.TriggerScheduled)).Scan(&c.ID, &c.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return delivery.Cursor{}, nil
	}
	if err != nil {
		return delivery.Cursor{}, fmt.Errorf("query cursor: %w", err)
	}
	return c, nil
}

// History returns up to limit journal rows for channel, newest first. An
// empty channel returns rows for every channel.
func (s *Store) History(ctx context.Context, channel string, limit int) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, event_type, payload_id, payload_date, action_trigger, delivered_at
		FROM deliveries
		WHERE ? = '' OR channel = ?
		ORDER BY id DESC
		LIMIT ?
	`, channel, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Delivery
	for rows.Next() {
		var (
			d           Delivery
			trigger     string
			deliveredAt string
		)
		if err := rows.Scan(&d.ID, &d.Channel, &d.EventType, &d.PayloadID, &d.PayloadDate, &trigger, &deliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Trigger = delivery.Trigger(trigger)
		if d.DeliveredAt, err = parseTime(deliveredAt); err != nil {
			return nil, fmt.Errorf("parse delivered_at: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// PruneOld deletes journal rows older than retainDays, always keeping the
// newest scheduled row per channel and event type so the cursor survives.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(s.now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deliveries
		WHERE delivered_at < ?
			AND id NOT IN (
				SELECT MAX(id) FROM deliveries
				WHERE action_trigger = ?
				GROUP BY channel, event_type
			)
	`, cutoff, string(delivery.TriggerScheduled))
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AcquireLock takes the lease for key. A lease held by another owner that
// has not expired yields ErrLocked; re-acquiring your own lease extends it.
func (s *Store) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if key == "" || owner == "" {
		return errors.New("lock key and owner are required")
	}
	if ttl <= 0 {
		return fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (key, owner, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE locks.expires_at <= ? OR locks.owner = excluded.owner
	`, key, owner, now.UnixNano(), now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrLocked)
	}
	return nil
}

// ReleaseLock drops the lease if owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, key, owner string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM locks WHERE key = ? AND owner = ?", key, owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// LockKey is the lease key for one channel and event type.
func LockKey(channel, eventType string) string {
	return channel + "|" + eventType
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
