package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pushd/internal/api"
	"pushd/internal/config"
	"pushd/internal/dispatch"
	"pushd/internal/eventbus"
	"pushd/internal/gateway"
	"pushd/internal/runtime/supervisor"
	"pushd/internal/scheduler"
	"pushd/internal/storage"
	logx "pushd/pkg/logx"
)

// httpMaxRestarts bounds listener retries before the app stops with an error.
const httpMaxRestarts = 5

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store storage.Store
	gw    *gateway.Limited
	disp  *dispatch.Coordinator
	sched *scheduler.Service
	http  *api.Server

	shutdownTimeout time.Duration
	httpBackoff     [2]time.Duration // min, max between listener restarts
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgm *config.ConfigManager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	gw, err := gateway.Open(ctx, mapGatewayConfig(cfg), logSvc.Logger().With(logx.String("comp", "gateway")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("gateway: %w", err)
	}

	disp := dispatch.New(mapDispatchConfig(cfg), store, gw,
		logSvc.Logger().With(logx.String("comp", "dispatch")), bus)
	sched := scheduler.New(mapSchedulerConfig(cfg), disp,
		logSvc.Logger().With(logx.String("comp", "scheduler")), bus)

	hc, shutdown, err := mapHTTPConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a := &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		gw:              gw,
		disp:            disp,
		sched:           sched,
		shutdownTimeout: shutdown,
		httpBackoff:     [2]time.Duration{500 * time.Millisecond, 10 * time.Second},
	}
	a.http = api.New(hc, api.Deps{
		Dispatch:  disp,
		Scheduler: sched,
		Health:    a.healthExtras,
	}, logSvc.Logger().With(logx.String("comp", "http")))

	log.Info("app built",
		logx.String("config", cfgm.Path()),
		logx.String("storage", sc.Driver),
		logx.String("gateway", gw.Name()),
		logx.String("audience", cfg.Dispatch.Audience),
	)
	return a, nil
}

func (a *App) healthExtras() map[string]any {
	out := map[string]any{
		"gateway":        a.gw.Name(),
		"events_dropped": a.bus.Dropped(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	return out
}

// Done is closed when a supervised task fails fatally or the parent context
// passed to Start is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, a.log.With(logx.String("comp", "supervisor")), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapHTTPConfig(cfg)
		return err
	})

	a.sched.Start(a.sup.Context())

	a.sup.GoRestart("http.serve", a.http.Serve, a.httpBackoff[0], a.httpBackoff[1], supervisor.WithMaxRestarts(httpMaxRestarts))
	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return watchdogLoop(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			if e.Data != nil {
				fields = append(fields, logx.Any("data", e.Data))
			}
			a.log.Trace("event", fields...)
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			// Only the newest of a burst is applied.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig pushes the hot-reloadable sections into running components.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, fields := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.sched.Apply(mapSchedulerConfig(next))
	a.gw.SetRate(next.Gateway.RatePerSec, next.Gateway.Burst)
	a.disp.Apply(mapDispatchConfig(next))

	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.Strings("sections", restart))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	a.log.Info("config reloaded", append([]logx.Field{logx.Strings("changed", sections)}, fields...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// step runs fn bounded by max and the caller's deadline. A step that
	// overruns is logged and left behind.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", a.shutdownTimeout, a.http.Shutdown)
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Stop)

	a.log.Info("stopped")
	return a.logs.Close()
}
