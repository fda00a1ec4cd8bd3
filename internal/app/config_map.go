package app

import (
	"time"

	"pushd/internal/api"
	"pushd/internal/config"
	"pushd/internal/dispatch"
	"pushd/internal/gateway"
	"pushd/internal/scheduler"
	"pushd/internal/storage"
	logx "pushd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapGatewayConfig(cfg *config.Config) gateway.Config {
	g := cfg.Gateway
	return gateway.Config{
		Driver:          g.Driver,
		CredentialsFile: g.CredentialsFile,
		ProjectID:       g.ProjectID,
		DryRun:          g.DryRun,
		RatePerSec:      g.RatePerSec,
		Burst:           g.Burst,
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{Audience: cfg.Dispatch.Audience, Group: cfg.Dispatch.Group}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func mapHTTPConfig(cfg *config.Config) (api.Config, time.Duration, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, 0, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, 0, err
	}
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", h.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return api.Config{}, 0, err
	}
	return api.Config{
		Addr:         h.Addr,
		StaticDir:    h.StaticDir,
		CORSOrigins:  h.CORSOrigins,
		BodyLimit:    h.BodyLimit,
		ReadTimeout:  read,
		WriteTimeout: write,
		Pprof:        h.Pprof,
	}, shutdown, nil
}
