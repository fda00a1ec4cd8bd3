package gateway

import (
	"context"
	"errors"
	"strings"

	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

// Gateway delivers payloads to recipients through a push backend.
type Gateway interface {
	Name() string
	// Send delivers p to aud. A group audience is one topic send; an All
	// audience fans out to each recipient token.
	Send(ctx context.Context, aud push.Audience, p push.Payload) (push.Delivery, error)
	// Subscribe adds token to the broadcast group.
	Subscribe(ctx context.Context, token, group string) error
}

type Config struct {
	Driver          string // "fcm" (default) or "log"
	CredentialsFile string
	ProjectID       string
	DryRun          bool

	RatePerSec float64 // 0 = unlimited
	Burst      int
}

// Open builds the configured backend wrapped in a rate limiter.
// The limiter is always present so its rate can be changed at runtime.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Limited, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var (
		g   Gateway
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "fcm":
		g, err = newFCM(ctx, cfg, log.With(logx.String("gateway", "fcm")))
	case "log":
		g = NewLog(log.With(logx.String("gateway", "log")))
	default:
		err = errors.New("unknown gateway driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	return NewLimited(g, cfg.RatePerSec, cfg.Burst), nil
}
