package correlation

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pushgate/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS correlation (
	key        TEXT PRIMARY KEY,
	requester  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS correlation_expires_at ON correlation(expires_at);
`

// SQLite is a Store backed by a database file, so the ingress and decision
// paths may live in different processes on one host.
type SQLite struct {
	db    *sql.DB
	log   logx.Logger
	ttl   time.Duration
	clock Clock
}

func OpenSQLite(path string, ttl time.Duration, clock Clock, log logx.Logger) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("correlation.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return newSQLite(db, ttl, clock, log)
}

func newSQLite(db *sql.DB, ttl time.Duration, clock Clock, log logx.Logger) (*SQLite, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, p := range []string{
		"PRAGMA busy_timeout = 2000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, log: log, ttl: ttl, clock: clock}, nil
}

func (s *SQLite) Record(ctx context.Context, key Key, requester int) error {
	if !key.Valid() {
		return ErrEmptyKey
	}
	exp := s.clock.Now().Add(s.ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO correlation(key, requester, expires_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET requester=excluded.requester, expires_at=excluded.expires_at`,
		string(key), requester, exp,
	)
	return err
}

func (s *SQLite) Consume(ctx context.Context, key Key) (int, bool, error) {
	var (
		requester int
		exp       int64
	)
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM correlation WHERE key = ? RETURNING requester, expires_at`,
		string(key),
	).Scan(&requester, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return Unknown, false, nil
	}
	if err != nil {
		return Unknown, false, err
	}
	if s.clock.Now().UnixMilli() >= exp {
		return Unknown, false, nil
	}
	return requester, true, nil
}

func (s *SQLite) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM correlation WHERE expires_at <= ?`, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM correlation`).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
