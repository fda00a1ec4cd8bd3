// Package dispatch resolves who receives a notification and hands it to the
// gateway. It is the single path for immediate sends, scheduled fires and
// token registration.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"pushd/internal/eventbus"
	"pushd/internal/gateway"
	"pushd/internal/push"
	"pushd/internal/storage"
	logx "pushd/pkg/logx"
)

const (
	AudienceTopic  = "topic"
	AudienceTokens = "tokens"

	DefaultGroup = "all"
)

type Config struct {
	Audience string // AudienceTopic (default) or AudienceTokens
	Group    string // broadcast group, default "all"
}

func (c Config) normalized() Config {
	c.Audience = strings.ToLower(strings.TrimSpace(c.Audience))
	if c.Audience != AudienceTokens {
		c.Audience = AudienceTopic
	}
	c.Group = strings.TrimSpace(c.Group)
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	return c
}

// Stats are cumulative counters since start.
type Stats struct {
	Registered  uint64 `json:"registered"`
	Sent        uint64 `json:"sent"`
	Skipped     uint64 `json:"skipped"`
	Failed      uint64 `json:"failed"`
	Invalid     uint64 `json:"invalid"`
	Delivered   uint64 `json:"delivered"`
	Undelivered uint64 `json:"undelivered"`
}

type Coordinator struct {
	store storage.Store
	gw    gateway.Gateway
	log   logx.Logger
	bus   eventbus.Bus

	mu  sync.RWMutex
	cfg Config

	registered  atomic.Uint64
	sent        atomic.Uint64
	skipped     atomic.Uint64
	failed      atomic.Uint64
	invalid     atomic.Uint64
	delivered   atomic.Uint64
	undelivered atomic.Uint64
}

func New(cfg Config, store storage.Store, gw gateway.Gateway, log logx.Logger, bus eventbus.Bus) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Coordinator{
		store: store,
		gw:    gw,
		log:   log,
		bus:   bus,
		cfg:   cfg.normalized(),
	}
}

// Apply swaps the audience mode and group for subsequent dispatches.
func (c *Coordinator) Apply(cfg Config) {
	cfg = cfg.normalized()
	c.mu.Lock()
	old := c.cfg
	c.cfg = cfg
	c.mu.Unlock()
	if old != cfg {
		c.log.Info("dispatch config applied", logx.String("audience", cfg.Audience), logx.String("group", cfg.Group))
	}
}

func (c *Coordinator) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Register stores token and subscribes it to the broadcast group. A token
// already stored is subscribed again; the gateway treats that as a no-op.
func (c *Coordinator) Register(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		c.invalid.Add(1)
		return false, push.InvalidInput("token is required")
	}
	created, err := c.store.Register(ctx, token)
	if err != nil {
		c.log.Error("register token failed", logx.Err(err))
		return false, err
	}
	group := c.config().Group
	if err := c.gw.Subscribe(ctx, token, group); err != nil {
		c.log.Error("subscribe token failed", logx.String("group", group), logx.Err(err))
		return created, err
	}
	if created {
		c.registered.Add(1)
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientRegistered})
	}
	c.log.Debug("token registered", logx.Bool("created", created), logx.String("group", group))
	return created, nil
}

// Dispatch sends p using the configured audience mode.
func (c *Coordinator) Dispatch(ctx context.Context, p push.Payload) (push.Result, error) {
	if c.config().Audience == AudienceTokens {
		return c.SendNow(ctx, p)
	}
	return c.SendBroadcast(ctx, p)
}

// SendNow sends p to every stored recipient. An empty store is a skipped,
// successful result and the gateway is not called.
func (c *Coordinator) SendNow(ctx context.Context, p push.Payload) (push.Result, error) {
	if err := c.validate(p); err != nil {
		return push.Result{}, err
	}
	tokens, err := c.store.Recipients(ctx)
	if err != nil {
		return push.Result{}, c.fail(push.All(nil), push.Delivery{}, err)
	}
	aud := push.All(tokens)
	if len(tokens) == 0 {
		c.skipped.Add(1)
		c.log.Info("dispatch skipped: no recipients")
		return push.Result{Audience: aud.String(), Skipped: true}, nil
	}
	return c.send(ctx, aud, p)
}

// SendBroadcast sends p once to the broadcast group.
func (c *Coordinator) SendBroadcast(ctx context.Context, p push.Payload) (push.Result, error) {
	if err := c.validate(p); err != nil {
		return push.Result{}, err
	}
	return c.send(ctx, push.Group(c.config().Group), p)
}

func (c *Coordinator) validate(p push.Payload) error {
	if err := p.Validate(); err != nil {
		c.invalid.Add(1)
		return err
	}
	return nil
}

func (c *Coordinator) send(ctx context.Context, aud push.Audience, p push.Payload) (push.Result, error) {
	d, err := c.gw.Send(ctx, aud, p)
	if err != nil {
		return push.Result{}, c.fail(aud, d, err)
	}

	res := push.Result{Audience: aud.String(), Recipients: aud.Size(), Delivery: d}
	c.sent.Add(1)
	c.delivered.Add(uint64(d.SuccessCount))
	c.undelivered.Add(uint64(d.FailureCount))
	c.log.Info("dispatch sent",
		logx.String("audience", res.Audience),
		logx.Int("success", d.SuccessCount),
		logx.Int("failure", d.FailureCount),
		logx.String("message_id", d.MessageID),
	)
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchSent, Data: eventbus.DispatchData{
		Audience:   res.Audience,
		Recipients: res.Recipients,
		Success:    d.SuccessCount,
		Failure:    d.FailureCount,
	}})
	return res, nil
}

func (c *Coordinator) fail(aud push.Audience, d push.Delivery, err error) error {
	c.failed.Add(1)
	c.undelivered.Add(uint64(d.FailureCount))
	c.log.Error("dispatch failed", logx.String("audience", aud.String()), logx.Err(err))
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchFailed, Data: eventbus.DispatchData{
		Audience: aud.String(),
		Failure:  d.FailureCount,
		Err:      err.Error(),
	}})
	return push.DispatchFailed(err)
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Registered:  c.registered.Load(),
		Sent:        c.sent.Load(),
		Skipped:     c.skipped.Load(),
		Failed:      c.failed.Load(),
		Invalid:     c.invalid.Load(),
		Delivered:   c.delivered.Load(),
		Undelivered: c.undelivered.Load(),
	}
}

// Recipients reports the number of stored recipients.
func (c *Coordinator) Recipients(ctx context.Context) (int, error) {
	return c.store.Count(ctx)
}
