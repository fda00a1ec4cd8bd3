package gateway

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"pushd/internal/push"
)

// Limited throttles calls into the wrapped gateway. A failed wait (context
// done) is reported as a gateway error without calling through.
type Limited struct {
	next Gateway

	mu  sync.RWMutex
	lim *rate.Limiter
}

func NewLimited(next Gateway, perSec float64, burst int) *Limited {
	l := &Limited{next: next}
	l.lim = newLimiter(perSec, burst)
	return l
}

func newLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// SetRate replaces the limit; in-flight waits keep the old limiter.
func (l *Limited) SetRate(perSec float64, burst int) {
	lim := newLimiter(perSec, burst)
	l.mu.Lock()
	l.lim = lim
	l.mu.Unlock()
}

func (l *Limited) Limit() rate.Limit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lim.Limit()
}

func (l *Limited) wait(ctx context.Context) error {
	l.mu.RLock()
	lim := l.lim
	l.mu.RUnlock()
	return lim.Wait(ctx)
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) Send(ctx context.Context, aud push.Audience, p push.Payload) (push.Delivery, error) {
	if err := l.wait(ctx); err != nil {
		return push.Delivery{}, push.GatewayError("rate wait", err)
	}
	return l.next.Send(ctx, aud, p)
}

func (l *Limited) Subscribe(ctx context.Context, token, group string) error {
	if err := l.wait(ctx); err != nil {
		return push.GatewayError("rate wait", err)
	}
	return l.next.Subscribe(ctx, token, group)
}
