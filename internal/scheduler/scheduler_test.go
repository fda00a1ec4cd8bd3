package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"pushd/internal/eventbus"
	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

type fakeDispatcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error

	mu       sync.Mutex
	payloads []push.Payload
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, p push.Payload) (push.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return push.Result{Recipients: 1}, f.err
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var hiThere = push.NewPayload("Hi", "there", "")

func newTestService(t *testing.T, disp Dispatcher, opts ...Option) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, disp, logx.Nop(), eventbus.New(), opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestScheduleOnceRejectsPastAndNow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	disp := &fakeDispatcher{}
	s := newTestService(t, disp, WithClock(func() time.Time { return now }))

	for _, at := range []time.Time{now.Add(-time.Second), now} {
		if _, err := s.ScheduleOnce(at, hiThere); !errors.Is(err, push.ErrInvalidInput) {
			t.Fatalf("ScheduleOnce(%v) = %v, want ErrInvalidInput", at, err)
		}
	}
	if n := len(s.Snapshot().Triggers); n != 0 {
		t.Fatalf("armed %d triggers, want 0", n)
	}
	if disp.calls.Load() != 0 {
		t.Fatal("dispatcher called for rejected trigger")
	}
}

func TestScheduleRejectsInvalidPayload(t *testing.T) {
	t.Parallel()
	s := newTestService(t, &fakeDispatcher{})
	if _, err := s.ScheduleOnce(time.Now().Add(time.Hour), push.NewPayload("", "x", "")); !errors.Is(err, push.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.ScheduleDaily(8, 0, push.NewPayload("x", "", "")); !errors.Is(err, push.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.ScheduleDaily(24, 0, hiThere); !errors.Is(err, push.ErrInvalidInput) {
		t.Fatalf("hour 24 err = %v", err)
	}
}

func TestScheduleOnceFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{started: make(chan struct{}, 4)}
	s := newTestService(t, disp)

	info, err := s.ScheduleOnce(time.Now().Add(300*time.Millisecond), hiThere)
	if err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}
	if info.ID == "" || info.Kind != KindOnce || info.State != "scheduled" {
		t.Fatalf("info = %+v", info)
	}

	time.Sleep(100 * time.Millisecond)
	if got := disp.calls.Load(); got != 0 {
		t.Fatalf("dispatch calls before due time = %d, want 0", got)
	}

	select {
	case <-disp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not fire")
	}
	// A stale second fire must be a no-op.
	s.fire(info.ID)
	time.Sleep(50 * time.Millisecond)

	if got := disp.calls.Load(); got != 1 {
		t.Fatalf("dispatch calls = %d, want 1", got)
	}
	deadline := time.Now().Add(time.Second)
	for len(s.Snapshot().Triggers) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("fired one-shot trigger still listed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if disp.payloads[0] != hiThere {
		t.Fatalf("payload = %+v", disp.payloads[0])
	}
}

func TestDailySpecFiresAtWallClock(t *testing.T) {
	t.Parallel()
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse("0 8 * * *")
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	for day := 2; day <= 4; day++ {
		at = sched.Next(at)
		want := time.Date(2026, 3, day, 8, 0, 0, 0, time.UTC)
		if !at.Equal(want) {
			t.Fatalf("next = %v, want %v", at, want)
		}
	}
}

func TestScheduleDailyRegistersCronEntry(t *testing.T) {
	t.Parallel()
	s := newTestService(t, &fakeDispatcher{})
	info, err := s.ScheduleDaily(8, 0, hiThere)
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	if info.Spec != "0 8 * * *" || info.Kind != KindDaily {
		t.Fatalf("info = %+v", info)
	}
	snap := s.Snapshot()
	if len(snap.Triggers) != 1 || !snap.Running || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
	next := snap.Triggers[0].Next.In(time.UTC)
	if next.IsZero() || next.Hour() != 8 || next.Minute() != 0 {
		t.Fatalf("next = %v", next)
	}
}

func TestDailyFiresOncePerCalendarDay(t *testing.T) {
	t.Parallel()
	clk := &clock{t: time.Date(2026, 11, 1, 1, 30, 0, 0, time.UTC)}
	disp := &fakeDispatcher{}
	s := newTestService(t, disp, WithClock(clk.Now))

	info, err := s.ScheduleDaily(1, 30, hiThere)
	if err != nil {
		t.Fatal(err)
	}
	s.fire(info.ID)
	clk.Add(time.Hour) // a repeated wall-clock hour on the same day
	s.fire(info.ID)
	if got := disp.calls.Load(); got != 1 {
		t.Fatalf("calls on same day = %d, want 1", got)
	}

	clk.Add(23 * time.Hour)
	s.fire(info.ID)
	if got := disp.calls.Load(); got != 2 {
		t.Fatalf("calls after a day = %d, want 2", got)
	}
	tr := s.Snapshot().Triggers[0]
	if tr.Fires != 2 || tr.State != "scheduled" {
		t.Fatalf("trigger = %+v", tr)
	}
}

func TestDailyDayGuardFollowsTimezoneChange(t *testing.T) {
	t.Parallel()
	// 08:00 in Jakarta on Mar 2 is still Mar 1 in Los Angeles.
	clk := &clock{t: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	disp := &fakeDispatcher{}
	s := newTestService(t, disp, WithClock(clk.Now))
	s.Apply(Config{Timezone: "Asia/Jakarta"})

	info, err := s.ScheduleDaily(8, 0, hiThere)
	if err != nil {
		t.Fatal(err)
	}
	s.fire(info.ID)

	s.Apply(Config{Timezone: "America/Los_Angeles"})
	clk.Add(15 * time.Hour) // Mar 2 08:00 in Los Angeles
	s.fire(info.ID)
	if got := disp.calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}

	clk.Add(time.Hour)
	s.fire(info.ID)
	if got := disp.calls.Load(); got != 2 {
		t.Fatalf("calls later the same day = %d, want 2", got)
	}
}

func TestDailyTriggerFiresFromCron(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the next wall-clock minute")
	}
	t.Parallel()
	disp := &fakeDispatcher{started: make(chan struct{}, 2)}
	s := newTestService(t, disp)

	now := time.Now().UTC()
	next := now.Add(time.Minute).Truncate(time.Minute)
	if next.Sub(now) < 2*time.Second {
		next = next.Add(time.Minute)
	}
	info, err := s.ScheduleDaily(next.Hour(), next.Minute(), hiThere)
	if err != nil {
		t.Fatal(err)
	}
	if before := disp.calls.Load(); before != 0 {
		t.Fatalf("dispatch calls before the minute = %d", before)
	}

	select {
	case <-disp.started:
	case <-time.After(75 * time.Second):
		t.Fatal("cron did not fire the daily trigger")
	}
	deadline := time.Now().Add(time.Second)
	for {
		snap := s.Snapshot()
		if len(snap.Triggers) != 1 || snap.Triggers[0].ID != info.ID {
			t.Fatalf("daily trigger not kept after firing: %+v", snap.Triggers)
		}
		tr := snap.Triggers[0]
		if tr.Fires == 1 && tr.State == "scheduled" {
			if !tr.Next.After(next) {
				t.Fatalf("next = %v, want after %v", tr.Next, next)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("trigger = %+v", tr)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOverlappingFireIsSkipped(t *testing.T) {
	t.Parallel()
	clk := &clock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	disp := &fakeDispatcher{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newTestService(t, disp, WithClock(clk.Now))

	info, err := s.ScheduleDaily(8, 0, hiThere)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		s.fire(info.ID)
		close(done)
	}()
	<-disp.started

	clk.Add(24 * time.Hour) // next day, so only the Firing state blocks it
	s.fire(info.ID)
	if got := s.Snapshot().Triggers[0].State; got != "firing" {
		t.Fatalf("state = %s, want firing", got)
	}
	close(disp.release)
	<-done

	if got := disp.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestFireRecordsDispatchError(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{err: push.DispatchFailed(push.GatewayError("send", errors.New("down")))}
	s := newTestService(t, disp)
	info, err := s.ScheduleDaily(8, 0, hiThere)
	if err != nil {
		t.Fatal(err)
	}
	s.fire(info.ID)
	if tr := s.Snapshot().Triggers[0]; tr.LastError == "" || tr.State != "scheduled" {
		t.Fatalf("trigger = %+v", tr)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{}
	s := newTestService(t, disp)
	once, err := s.ScheduleOnce(time.Now().Add(time.Hour), hiThere)
	if err != nil {
		t.Fatal(err)
	}
	daily, err := s.ScheduleDaily(6, 15, hiThere)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Cancel(once.ID) || !s.Cancel(daily.ID) {
		t.Fatal("Cancel returned false")
	}
	if s.Cancel(once.ID) {
		t.Fatal("second Cancel returned true")
	}
	s.fire(daily.ID)
	if disp.calls.Load() != 0 || len(s.Snapshot().Triggers) != 0 {
		t.Fatal("cancelled trigger still active")
	}
}

func TestStopDropsPendingAndRejectsNew(t *testing.T) {
	t.Parallel()
	disp := &fakeDispatcher{}
	s := New(Config{}, disp, logx.Nop(), nil)
	s.Start(context.Background())
	if _, err := s.ScheduleOnce(time.Now().Add(time.Hour), hiThere); err != nil {
		t.Fatal(err)
	}
	s.Stop(context.Background())

	if n := len(s.Snapshot().Triggers); n != 0 {
		t.Fatalf("triggers after Stop = %d", n)
	}
	if _, err := s.ScheduleOnce(time.Now().Add(time.Hour), hiThere); !errors.Is(err, ErrStopped) {
		t.Fatalf("ScheduleOnce after Stop = %v", err)
	}
	if _, err := s.ScheduleDaily(8, 0, hiThere); !errors.Is(err, ErrStopped) {
		t.Fatalf("ScheduleDaily after Stop = %v", err)
	}
	s.Stop(context.Background())
}

func TestApplyTimezoneRestartsCron(t *testing.T) {
	t.Parallel()
	s := newTestService(t, &fakeDispatcher{})
	if _, err := s.ScheduleDaily(8, 0, hiThere); err != nil {
		t.Fatal(err)
	}
	s.Apply(Config{Timezone: "Asia/Jakarta"})
	snap := s.Snapshot()
	if snap.Timezone != "Asia/Jakarta" || !snap.Running {
		t.Fatalf("snapshot = %+v", snap)
	}
	next := snap.Triggers[0].Next
	if loc, _ := time.LoadLocation("Asia/Jakarta"); next.In(loc).Hour() != 8 {
		t.Fatalf("next = %v, want 08:00 Jakarta", next)
	}
}

func TestScheduleDailyUsesParsedHourMinute(t *testing.T) {
	t.Parallel()
	s := newTestService(t, &fakeDispatcher{})
	info, err := s.Schedule("2020-01-01T07:45:00Z", true, hiThere)
	if err != nil {
		t.Fatalf("Schedule daily with past date: %v", err)
	}
	if info.Spec != "45 7 * * *" {
		t.Fatalf("spec = %q", info.Spec)
	}
	if _, err := s.Schedule("2020-01-01T07:45:00Z", false, hiThere); !errors.Is(err, push.ErrInvalidInput) {
		t.Fatalf("past one-shot err = %v", err)
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()
	jkt, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 5, 10, 20, 0, 0, 0, jkt)

	tests := []struct {
		raw  string
		want time.Time
		bad  bool
	}{
		{raw: "2026-05-11T08:00:00Z", want: time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)},
		{raw: "2026-05-11T08:00:00+07:00", want: time.Date(2026, 5, 11, 1, 0, 0, 0, time.UTC)},
		{raw: "2026-05-11T08:00", want: time.Date(2026, 5, 11, 8, 0, 0, 0, jkt)},
		{raw: "2026-05-11 08:00:30", want: time.Date(2026, 5, 11, 8, 0, 30, 0, jkt)},
		{raw: " 2026-05-11 08:00 ", want: time.Date(2026, 5, 11, 8, 0, 0, 0, jkt)},
		{raw: "09:15", want: time.Date(2026, 5, 10, 9, 15, 0, 0, jkt)},
		{raw: "", bad: true},
		{raw: "tomorrow", bad: true},
		{raw: "25:00", bad: true},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.raw, jkt, now)
		if tt.bad {
			if !errors.Is(err, push.ErrInvalidInput) {
				t.Fatalf("parseTime(%q) err = %v, want ErrInvalidInput", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTime(%q): %v", tt.raw, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("parseTime(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
