// Package api is the HTTP surface: token registration, immediate and
// scheduled sends, trigger listing and health.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"pushd/internal/dispatch"
	"pushd/internal/push"
	"pushd/internal/scheduler"
	logx "pushd/pkg/logx"
)

type Config struct {
	Addr         string
	StaticDir    string
	CORSOrigins  []string
	BodyLimit    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pprof        bool
}

// Dispatcher is the part of the dispatch coordinator the API uses.
type Dispatcher interface {
	Register(ctx context.Context, token string) (bool, error)
	Dispatch(ctx context.Context, p push.Payload) (push.Result, error)
	Recipients(ctx context.Context) (int, error)
	Stats() dispatch.Stats
}

// Scheduler is the part of the trigger scheduler the API uses.
type Scheduler interface {
	Schedule(raw string, daily bool, p push.Payload) (scheduler.TriggerInfo, error)
	Cancel(id string) bool
	Snapshot() scheduler.Snapshot
}

type Deps struct {
	Dispatch  Dispatcher
	Scheduler Scheduler
	// Health adds extra sections to GET /healthz (optional).
	Health func() map[string]any
}

type Server struct {
	cfg  Config
	log  logx.Logger
	deps Deps
	e    *echo.Echo

	mu  sync.Mutex
	srv *http.Server
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log, deps: deps}
	s.e = s.newEcho()
	return s
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newValidator()
	e.HTTPErrorHandler = s.errorHandler

	s.useMiddleware(e)

	e.POST("/register-token", s.registerToken)
	e.POST("/send", s.send)
	e.POST("/schedule", s.schedule)
	e.GET("/schedules", s.listSchedules)
	e.DELETE("/schedules/:id", s.cancelSchedule)
	e.GET("/healthz", s.health)

	if s.cfg.Pprof {
		mountPprof(e)
	}
	if dir := strings.TrimSpace(s.cfg.StaticDir); dir != "" {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			e.Static("/", dir)
			s.log.Info("serving static files", logx.String("dir", dir))
		} else {
			s.log.Debug("static dir not found; skipping", logx.String("dir", dir))
		}
	}
	return e
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Serve listens on cfg.Addr and serves until ctx is done or the server
// fails. It is meant to run under a supervisor restart loop.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = ":3000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:      s.e,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.srv == srv {
			s.srv = nil
		}
		s.mu.Unlock()
	}()

	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return context.Canceled
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the running server, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	s.log.Info("http stopped")
	return err
}
