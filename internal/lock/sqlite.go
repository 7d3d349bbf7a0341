package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteManager is a single-host Manager backed by SQLite, for
// deployments running one runtime process against a durable lock
// table that survives restarts (unlike MemoryManager, a crash does
// not silently forget who held what — the TTL column lets a new
// process reclaim a lease its predecessor never released).
type SQLiteManager struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) a lock table at dbPath.
func NewSQLite(dbPath string) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open lock database: %w", err)
	}

	m := &SQLiteManager{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate lock database: %w", err)
	}
	return m, nil
}

func (m *SQLiteManager) migrate() error {
	_, err := m.db.Exec(`
	CREATE TABLE IF NOT EXISTS leases (
		key        TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`)
	return err
}

// Close closes the underlying database connection.
func (m *SQLiteManager) Close() error {
	return m.db.Close()
}

// TryAcquire implements Manager. Acquisition and the staleness check
// run inside one transaction so two concurrent acquirers racing the
// same key serialize on SQLite's writer lock rather than both
// observing "absent".
func (m *SQLiteManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin acquire: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existingExpiry string
	err = tx.QueryRowContext(ctx, `SELECT expires_at FROM leases WHERE key = ?`, key).Scan(&existingExpiry)
	switch {
	case err == sql.ErrNoRows:
		// no holder — fall through to insert
	case err != nil:
		return nil, fmt.Errorf("check lease %s: %w", key, err)
	default:
		expiresAt, parseErr := time.Parse(time.RFC3339Nano, existingExpiry)
		if parseErr == nil && now.Before(expiresAt) {
			return nil, ErrNotAcquired
		}
		// existing row is expired; the statement below replaces it
	}

	token := uuid.NewString()
	expires := now.Add(ttl)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO leases (key, token, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
	`, key, token, expires.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit acquire %s: %w", key, err)
	}

	return &Lease{
		Key:     key,
		Token:   token,
		expires: expires,
		release: m.release,
	}, nil
}

func (m *SQLiteManager) release(ctx context.Context, key, token string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND token = ?`, key, token)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
