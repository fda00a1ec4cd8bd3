package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"pushd/internal/push"
)

// ErrStopped is returned when scheduling after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Dispatcher delivers a payload when a trigger fires.
type Dispatcher interface {
	Dispatch(ctx context.Context, p push.Payload) (push.Result, error)
}

type Config struct {
	Timezone string // IANA name; empty means time.Local
}

type Kind string

const (
	KindOnce  Kind = "once"
	KindDaily Kind = "daily"
)

// State of a trigger: Scheduled -> Firing -> Scheduled (daily) or Terminal (once).
type State uint8

const (
	StateScheduled State = iota
	StateFiring
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateFiring:
		return "firing"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type trigger struct {
	id      string
	kind    Kind
	payload push.Payload
	created time.Time

	at     time.Time // once
	timer  *time.Timer
	hour   int // daily
	minute int
	spec   string

	entryID cron.EntryID

	state     State
	lastFired time.Time
	fires     uint64
	lastErr   string
}

// TriggerInfo is the externally visible view of a trigger.
type TriggerInfo struct {
	ID        string       `json:"id"`
	Kind      Kind         `json:"kind"`
	Spec      string       `json:"spec,omitempty"`
	At        time.Time    `json:"at,omitzero"`
	State     string       `json:"state"`
	Next      time.Time    `json:"next,omitzero"`
	Prev      time.Time    `json:"prev,omitzero"`
	Fires     uint64       `json:"fires"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Payload   push.Payload `json:"payload"`
}

type Snapshot struct {
	Timezone string        `json:"timezone"`
	Running  bool          `json:"running"`
	Triggers []TriggerInfo `json:"triggers"`
}
