package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/coparent-ritual/internal/domain"
	"github.com/ashureev/coparent-ritual/internal/shared"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS partners (
		user_id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		linked_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_partners_partner ON partners(partner_id);

	CREATE TABLE IF NOT EXISTS ritual_progress (
		user_id TEXT NOT NULL,
		week_key TEXT NOT NULL,
		current_step INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, week_key)
	);

	CREATE TABLE IF NOT EXISTS nudges (
		id TEXT PRIMARY KEY,
		from_user_id TEXT NOT NULL,
		to_user_id TEXT NOT NULL,
		week_key TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nudges_triple ON nudges(from_user_id, to_user_id, week_key, sent_at);

	CREATE TABLE IF NOT EXISTS insight_cache (
		cache_key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insight_cache_stored ON insight_cache(stored_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// exec runs a write, retrying while the database is busy.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, op, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// EnsureUser creates the user on first sight and refreshes last_seen_at.
func (s *SQLiteStore) EnsureUser(ctx context.Context, userID string, seenAt time.Time) error {
	query := `
	INSERT INTO users (user_id, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	_, err := s.exec(ctx, "ensure user", query, userID, seenAt.UnixMilli(), seenAt.UnixMilli())
	return err
}

// GetPartnerID returns the linked co-parent, or "" when there is none.
func (s *SQLiteStore) GetPartnerID(ctx context.Context, userID string) (string, error) {
	var partnerID string
	err := s.db.QueryRowContext(ctx, `SELECT partner_id FROM partners WHERE user_id = ?`, userID).Scan(&partnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan partner row: %w", err)
	}
	return partnerID, nil
}

// SetPartner links userID and partnerID in both directions. Any previous
// link of either user is dropped.
func (s *SQLiteStore) SetPartner(ctx context.Context, userID, partnerID string) error {
	return shared.RetryOnConflict(ctx, s.retry, "set partner", func() error {
		return s.setPartnerOnce(ctx, userID, partnerID)
	})
}

func (s *SQLiteStore) setPartnerOnce(ctx context.Context, userID, partnerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM partners WHERE user_id IN (?, ?) OR partner_id IN (?, ?)`,
		userID, partnerID, userID, partnerID); err != nil {
		return fmt.Errorf("clear partner links: %w", err)
	}

	now := time.Now().UnixMilli()
	insert := `INSERT INTO partners (user_id, partner_id, linked_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, partnerID, now); err != nil {
		return fmt.Errorf("link partner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, partnerID, userID, now); err != nil {
		return fmt.Errorf("link partner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit partner link: %w", err)
	}
	return nil
}

// GetRitualProgress returns nil when the user has no row for the week.
func (s *SQLiteStore) GetRitualProgress(ctx context.Context, userID, weekKey string) (*domain.RitualProgress, error) {
	query := `
		SELECT user_id, week_key, current_step, completed_at, updated_at
		FROM ritual_progress WHERE user_id = ? AND week_key = ?`

	var p domain.RitualProgress
	var completedAt sql.NullInt64
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID, weekKey).Scan(
		&p.UserID, &p.WeekKey, &p.CurrentStep, &completedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan ritual progress: %w", err)
	}

	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if completedAt.Valid {
		ts := time.UnixMilli(completedAt.Int64).UTC()
		p.CompletedAt = &ts
	}
	return &p, nil
}

// UpsertRitualProgress creates or replaces the progress row.
func (s *SQLiteStore) UpsertRitualProgress(ctx context.Context, p *domain.RitualProgress) error {
	query := `
	INSERT INTO ritual_progress (user_id, week_key, current_step, completed_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, week_key) DO UPDATE SET
		current_step = excluded.current_step,
		completed_at = excluded.completed_at,
		updated_at = excluded.updated_at`

	var completedAt any
	if p.CompletedAt != nil {
		completedAt = p.CompletedAt.UnixMilli()
	}

	_, err := s.exec(ctx, "upsert ritual progress", query,
		p.UserID, p.WeekKey, p.CurrentStep, completedAt, p.UpdatedAt.UnixMilli())
	return err
}

// InsertNudge appends an accepted nudge.
func (s *SQLiteStore) InsertNudge(ctx context.Context, n *domain.NudgeRecord) error {
	query := `
	INSERT INTO nudges (id, from_user_id, to_user_id, week_key, sent_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, "insert nudge", query,
		n.ID, n.FromUserID, n.ToUserID, n.WeekKey, n.SentAt.UnixMilli())
	return err
}

// LatestNudge returns the most recent nudge for the triple, or nil.
func (s *SQLiteStore) LatestNudge(ctx context.Context, fromUserID, toUserID, weekKey string) (*domain.NudgeRecord, error) {
	query := `
		SELECT id, from_user_id, to_user_id, week_key, sent_at
		FROM nudges
		WHERE from_user_id = ? AND to_user_id = ? AND week_key = ?
		ORDER BY sent_at DESC
		LIMIT 1`

	var n domain.NudgeRecord
	var sentAt int64
	err := s.db.QueryRowContext(ctx, query, fromUserID, toUserID, weekKey).Scan(
		&n.ID, &n.FromUserID, &n.ToUserID, &n.WeekKey, &sentAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan nudge: %w", err)
	}
	n.SentAt = time.UnixMilli(sentAt).UTC()
	return &n, nil
}

// GetCacheValue reads a raw insight cache entry.
func (s *SQLiteStore) GetCacheValue(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM insight_cache WHERE cache_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan cache entry: %w", err)
	}
	return value, true, nil
}

// PutCacheValue writes a raw insight cache entry, replacing any older one.
func (s *SQLiteStore) PutCacheValue(ctx context.Context, key string, value []byte, storedAt time.Time) error {
	query := `
	INSERT INTO insight_cache (cache_key, value, stored_at)
	VALUES (?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET
		value = excluded.value,
		stored_at = excluded.stored_at`

	_, err := s.exec(ctx, "put cache entry", query, key, value, storedAt.UnixMilli())
	return err
}

// DeleteCacheBefore removes cache entries stored before cutoff.
func (s *SQLiteStore) DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, "prune cache", `DELETE FROM insight_cache WHERE stored_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
