package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		app_name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// SQLiteBackend stores sessions in a local SQLite file. Expired rows are
// invisible to reads; PurgeExpired deletes them.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteBackend opens (and creates if needed) the database at path.
func OpenSQLiteBackend(path string, now func() time.Time) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if now == nil {
		now = time.Now
	}
	return &SQLiteBackend{db: db, now: now}, nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var data string
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = ? AND (expires_at = 0 OR expires_at > ?)`,
		sessionID, b.now().UnixNano(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (b *SQLiteBackend) Save(ctx context.Context, sessionID string, meta Meta, data []byte, ttl time.Duration) error {
	now := b.now()
	var expires int64
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sessions (id, app_name, user_id, data, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			app_name = excluded.app_name,
			user_id = excluded.user_id,
			data = excluded.data,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		sessionID, meta.AppName, meta.UserID, string(data), now.UnixNano(), expires,
	)
	return err
}

func (b *SQLiteBackend) Remove(ctx context.Context, sessionID string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func (b *SQLiteBackend) Scan(ctx context.Context, userID string) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT data FROM sessions
		WHERE (expires_at = 0 OR expires_at > ?) AND (? = '' OR user_id = ?)
		ORDER BY updated_at DESC`,
		b.now().UnixNano(), userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, []byte(data))
	}
	return out, rows.Err()
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (b *SQLiteBackend) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at != 0 AND expires_at <= ?`, b.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
