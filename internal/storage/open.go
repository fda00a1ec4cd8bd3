package storage

import (
	"context"
	"errors"
	"strings"

	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

// Store is the recipient store used by dispatch and the API.
//
// Implementations are safe for concurrent use. Register is atomic
// insert-if-absent; Recipients returns a point-in-time snapshot.
type Store interface {
	// Register stores token if absent. created is false when it already existed.
	Register(ctx context.Context, token string) (created bool, err error)
	Recipients(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// normalizeToken trims the token and rejects empty input with ErrInvalidInput.
func normalizeToken(token string) (string, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return "", push.InvalidInput("token is required")
	}
	return t, nil
}
