package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or "sqlite3"): SQLite database file at Path
//   - "file": journal + snapshot files next to Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Recipient is one stored registration.
type Recipient struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}
