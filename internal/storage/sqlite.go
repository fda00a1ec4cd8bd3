package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; insert-if-absent stays atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		// FULL: a committed registration survives power loss, not only a process crash.
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Register(ctx context.Context, token string) (bool, error) {
	tok, err := normalizeToken(token)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(token, created_at) VALUES(?, ?)
		 ON CONFLICT(token) DO NOTHING`,
		tok, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, push.StoreError("register", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, push.StoreError("register", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) Recipients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM recipients ORDER BY id`)
	if err != nil {
		return nil, push.StoreError("list", err)
	}
	defer rows.Close()

	out := make([]string, 0, 64)
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, push.StoreError("list", err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, push.StoreError("list", err)
	}
	return out, nil
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n); err != nil {
		return 0, push.StoreError("count", err)
	}
	return n, nil
}
