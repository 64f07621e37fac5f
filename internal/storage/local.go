package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourusername/bulletin/internal/announcement"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DefaultLocalQuota mirrors the usual browser local-storage allowance.
const DefaultLocalQuota int64 = 5 * 1024 * 1024

// LocalKey returns the profile key a collection is stored under.
func LocalKey(kind announcement.Kind) string {
	switch kind {
	case announcement.News:
		return "newsItems"
	case announcement.Activities:
		return "activityItems"
	}
	return string(kind)
}

// LocalAdapter is a key/value profile store scoped to one machine, playing the
// role browser local storage plays for the web admin page.
type LocalAdapter struct {
	db     *sql.DB
	quota  int64
	logger *slog.Logger
}

// OpenLocalAdapter opens (or creates) a profile database at path.
// Use ":memory:" for a throwaway profile.
func OpenLocalAdapter(path string, quota int64, logger *slog.Logger) (*LocalAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local profile: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	adapter, err := NewLocalAdapter(db, quota, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}

// NewLocalAdapter wraps an open database and ensures the schema exists.
func NewLocalAdapter(db *sql.DB, quota int64, logger *slog.Logger) (*LocalAdapter, error) {
	if quota <= 0 {
		quota = DefaultLocalQuota
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS local_storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create local_storage table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pending_sync (
		key TEXT PRIMARY KEY
	)`); err != nil {
		return nil, fmt.Errorf("failed to create pending_sync table: %w", err)
	}
	return &LocalAdapter{
		db:     db,
		quota:  quota,
		logger: logger.With("component", "storage.local"),
	}, nil
}

// Close releases the underlying database.
func (s *LocalAdapter) Close() error {
	return s.db.Close()
}

// Name implements Adapter.
func (s *LocalAdapter) Name() string { return "local" }

// Load reads a collection. A missing key is an empty collection.
func (s *LocalAdapter) Load(ctx context.Context, kind announcement.Kind) (announcement.Collection, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, LocalKey(kind)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return announcement.Collection{}, nil
	}
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Backend: s.Name(), Op: "load", Collection: kind, Err: err}
	}

	var items announcement.Collection
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		s.logger.WarnContext(ctx, "Local profile value is not valid JSON", "key", LocalKey(kind), "error", err)
		return nil, &Error{Kind: KindMalformed, Backend: s.Name(), Op: "load", Collection: kind, Err: err}
	}
	if items == nil {
		items = announcement.Collection{}
	}
	return items, nil
}

// Save stores a collection, failing with QuotaExceeded when the profile would
// grow past its allowance.
func (s *LocalAdapter) Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error {
	if items == nil {
		items = announcement.Collection{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return &Error{Kind: KindMalformed, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}
	key := LocalKey(kind)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var used int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0)
		 FROM local_storage WHERE key != ?`, key).Scan(&used); err != nil {
		return &Error{Kind: KindNetwork, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}

	need := used + int64(len(key)) + int64(len(data))
	if need > s.quota {
		s.logger.WarnContext(ctx, "Local profile quota exceeded",
			"key", key,
			"needed_bytes", need,
			"quota_bytes", s.quota)
		return &Error{
			Kind:       KindQuotaExceeded,
			Backend:    s.Name(),
			Op:         "save",
			Collection: kind,
			Err:        fmt.Errorf("%d bytes needed, quota is %d", need, s.quota),
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO local_storage (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(data)); err != nil {
		return &Error{Kind: KindNetwork, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Kind: KindNetwork, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}
	return nil
}

var _ Adapter = &LocalAdapter{}

// SetPending records whether a collection holds writes the primary has not
// accepted. Markers live outside local_storage and do not count against the quota.
func (s *LocalAdapter) SetPending(ctx context.Context, kind announcement.Kind, pending bool) error {
	var err error
	if pending {
		_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO pending_sync (key) VALUES (?)`, LocalKey(kind))
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM pending_sync WHERE key = ?`, LocalKey(kind))
	}
	if err != nil {
		return &Error{Kind: KindNetwork, Backend: s.Name(), Op: "mark", Collection: kind, Err: err}
	}
	return nil
}

// Pending reports whether a collection is waiting for a manual sync.
func (s *LocalAdapter) Pending(ctx context.Context, kind announcement.Kind) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sync WHERE key = ?`, LocalKey(kind)).Scan(&n); err != nil {
		return false, &Error{Kind: KindNetwork, Backend: s.Name(), Op: "mark", Collection: kind, Err: err}
	}
	return n > 0, nil
}

var _ Mirror = &LocalAdapter{}
