package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"pushd/internal/eventbus"
	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	bus  eventbus.Bus
	disp Dispatcher
	now  func() time.Time

	parser   cron.Parser
	c        *cron.Cron
	triggers map[string]*trigger
	stopped  bool

	// Fires run under fireCtx; Stop waits on inflight, then cancels.
	fireCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

type Option func(*Service)

// WithClock replaces time.Now for due-time and calendar-day checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, disp Dispatcher, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		log:      log,
		cfg:      cfg,
		bus:      bus,
		disp:     disp,
		now:      time.Now,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		triggers: map[string]*trigger{},
		fireCtx:  ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocationLocked()
	return s
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start starts the cron runner and registers daily triggers added before it.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.stopped {
		return
	}
	s.startCronLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, tr := range s.triggers {
		if tr.kind == KindDaily {
			if err := s.addCronLocked(tr); err != nil {
				s.log.Error("daily trigger register failed", logx.String("id", tr.id), logx.String("spec", tr.spec), logx.Err(err))
			}
		}
	}
	s.c.Start()
}

// Apply updates the config. A timezone change restarts cron so daily
// triggers follow the new wall clock.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	if s.c == nil {
		s.loc = s.loadLocationLocked()
		return
	}
	// Not waiting for the old runner: its jobs take s.mu in fire.
	s.c.Stop()
	s.startCronLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
}

// Stop halts cron and pending timers, then waits for in-flight fires until
// ctx is done. Pending triggers are dropped.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	c := s.c
	s.c = nil
	pending := 0
	for id, tr := range s.triggers {
		if tr.timer != nil {
			tr.timer.Stop()
		}
		if tr.state != StateFiring {
			pending++
			delete(s.triggers, id)
		}
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop: in-flight fires still running", logx.Err(ctx.Err()))
	}
	s.cancel()

	if pending > 0 {
		s.log.Warn("pending triggers dropped", logx.Int("count", pending))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// ScheduleOnce arms a trigger that fires once at at. at must be strictly in
// the future.
func (s *Service) ScheduleOnce(at time.Time, p push.Payload) (TriggerInfo, error) {
	if err := p.Validate(); err != nil {
		return TriggerInfo{}, err
	}
	if at.IsZero() {
		return TriggerInfo{}, push.InvalidInput("time is required")
	}
	delay := at.Sub(s.now())
	if delay <= 0 {
		return TriggerInfo{}, push.InvalidInput("time in the past")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return TriggerInfo{}, ErrStopped
	}
	tr := &trigger{
		id:      uuid.NewString(),
		kind:    KindOnce,
		payload: p,
		created: s.now(),
		at:      at.In(s.loc),
	}
	id := tr.id
	tr.timer = time.AfterFunc(delay, func() { s.fire(id) })
	s.triggers[id] = tr

	s.log.Info("one-shot trigger scheduled", logx.String("id", id), logx.Time("at", tr.at), logx.Duration("in", delay))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerScheduled, Data: eventbus.TriggerData{ID: id, Kind: string(KindOnce)}})
	return s.infoLocked(tr), nil
}

// ScheduleDaily arms a trigger firing every day at hour:minute in the
// scheduler timezone.
func (s *Service) ScheduleDaily(hour, minute int, p push.Payload) (TriggerInfo, error) {
	if err := p.Validate(); err != nil {
		return TriggerInfo{}, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TriggerInfo{}, push.InvalidInput("invalid daily time %02d:%02d", hour, minute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return TriggerInfo{}, ErrStopped
	}
	tr := &trigger{
		id:      uuid.NewString(),
		kind:    KindDaily,
		payload: p,
		created: s.now(),
		hour:    hour,
		minute:  minute,
		spec:    fmt.Sprintf("%d %d * * *", minute, hour),
	}
	if s.c != nil {
		if err := s.addCronLocked(tr); err != nil {
			return TriggerInfo{}, fmt.Errorf("register daily trigger: %w", err)
		}
	}
	s.triggers[tr.id] = tr

	args := []logx.Field{logx.String("id", tr.id), logx.String("spec", tr.spec)}
	if next := s.previewNextRunsLocked(tr.spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Info("daily trigger scheduled", args...)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerScheduled, Data: eventbus.TriggerData{ID: tr.id, Kind: string(KindDaily)}})
	return s.infoLocked(tr), nil
}

// Schedule parses raw and arms a one-shot trigger, or a daily trigger at the
// parsed hour and minute when daily is set.
func (s *Service) Schedule(raw string, daily bool, p push.Payload) (TriggerInfo, error) {
	if err := p.Validate(); err != nil {
		return TriggerInfo{}, err
	}
	at, err := s.ParseTime(raw)
	if err != nil {
		return TriggerInfo{}, err
	}
	if daily {
		local := at.In(s.location())
		return s.ScheduleDaily(local.Hour(), local.Minute(), p)
	}
	return s.ScheduleOnce(at, p)
}

// Cancel removes a trigger that is not currently firing.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.triggers[id]
	if !ok || tr.state == StateFiring {
		return false
	}
	if tr.timer != nil {
		tr.timer.Stop()
	}
	if tr.entryID != 0 && s.c != nil {
		s.c.Remove(tr.entryID)
	}
	delete(s.triggers, id)
	s.log.Info("trigger cancelled", logx.String("id", id))
	return true
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		Timezone: s.loc.String(),
		Running:  s.c != nil,
		Triggers: make([]TriggerInfo, 0, len(s.triggers)),
	}
	for _, tr := range s.triggers {
		out.Triggers = append(out.Triggers, s.infoLocked(tr))
	}
	sort.Slice(out.Triggers, func(i, j int) bool {
		a, b := out.Triggers[i], out.Triggers[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (s *Service) infoLocked(tr *trigger) TriggerInfo {
	it := TriggerInfo{
		ID:        tr.id,
		Kind:      tr.kind,
		Spec:      tr.spec,
		State:     tr.state.String(),
		Fires:     tr.fires,
		LastError: tr.lastErr,
		CreatedAt: tr.created,
		Payload:   tr.payload,
		Prev:      tr.lastFired,
	}
	switch tr.kind {
	case KindOnce:
		it.At = tr.at
		it.Next = tr.at
	case KindDaily:
		if s.c != nil && tr.entryID != 0 {
			it.Next = s.c.Entry(tr.entryID).Next
		} else if sched, err := s.parser.Parse(tr.spec); err == nil {
			it.Next = sched.Next(s.now().In(s.loc))
		}
	}
	return it
}

func (s *Service) addCronLocked(tr *trigger) error {
	id := tr.id
	eid, err := s.c.AddFunc(tr.spec, func() { s.fire(id) })
	if err != nil {
		return err
	}
	tr.entryID = eid
	return nil
}

// fire runs one trigger. A trigger already Firing is skipped, and a daily
// trigger fires at most once per calendar day.
func (s *Service) fire(id string) {
	s.mu.Lock()
	tr, ok := s.triggers[id]
	if !ok || s.stopped || tr.state == StateTerminal {
		s.mu.Unlock()
		return
	}
	if tr.state == StateFiring {
		s.mu.Unlock()
		s.log.Debug("trigger skipped: previous fire still running", logx.String("id", id))
		return
	}
	now := s.now().In(s.loc)
	// Both sides in the current zone, so a timezone change does not shift the day.
	if tr.kind == KindDaily && !tr.lastFired.IsZero() && sameDay(tr.lastFired.In(s.loc), now) {
		s.mu.Unlock()
		s.log.Debug("trigger skipped: already fired today", logx.String("id", id), logx.String("day", now.Format(time.DateOnly)))
		return
	}
	tr.state = StateFiring
	tr.lastFired = now
	tr.fires++
	p := tr.payload
	kind := tr.kind
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	res, err := s.dispatchSafe(p)

	s.mu.Lock()
	if err != nil {
		tr.lastErr = err.Error()
	} else {
		tr.lastErr = ""
	}
	if kind == KindOnce {
		tr.state = StateTerminal
		delete(s.triggers, id)
	} else {
		tr.state = StateScheduled
	}
	s.mu.Unlock()

	data := eventbus.TriggerData{ID: id, Kind: string(kind)}
	if err != nil {
		data.Err = err.Error()
		s.log.Error("scheduled dispatch failed", logx.String("id", id), logx.String("kind", string(kind)), logx.Err(err))
	} else {
		s.log.Info("scheduled dispatch done",
			logx.String("id", id),
			logx.String("kind", string(kind)),
			logx.String("result", res.Message()),
			logx.Int("recipients", res.Recipients),
		)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerFired, Data: data})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *Service) dispatchSafe(p push.Payload) (res push.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	if s.disp == nil {
		return push.Result{}, fmt.Errorf("no dispatcher")
	}
	return s.disp.Dispatch(s.fireCtx, p)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked formats the next n run times of spec for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := s.now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}
