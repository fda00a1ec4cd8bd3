package config

import (
	"slices"
	"strings"

	logx "pushd/pkg/logx"
)

// SummarizeConfigChange returns the names of changed sections and safe
// structured fields for logging them. Credentials paths are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.HTTP.Addr != newCfg.HTTP.Addr ||
		oldCfg.HTTP.StaticDir != newCfg.HTTP.StaticDir ||
		!slices.Equal(oldCfg.HTTP.CORSOrigins, newCfg.HTTP.CORSOrigins) ||
		oldCfg.HTTP.BodyLimit != newCfg.HTTP.BodyLimit ||
		oldCfg.HTTP.ReadTimeout != newCfg.HTTP.ReadTimeout ||
		oldCfg.HTTP.WriteTimeout != newCfg.HTTP.WriteTimeout ||
		oldCfg.HTTP.ShutdownTimeout != newCfg.HTTP.ShutdownTimeout ||
		oldCfg.HTTP.Pprof != newCfg.HTTP.Pprof {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if oldCfg.Gateway != newCfg.Gateway {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.driver", newCfg.Gateway.Driver),
			logx.Bool("gateway.credentials_set", strings.TrimSpace(newCfg.Gateway.CredentialsFile) != ""),
			logx.Bool("gateway.dry_run", newCfg.Gateway.DryRun),
			logx.Any("gateway.rate_per_sec", newCfg.Gateway.RatePerSec),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.audience", newCfg.Dispatch.Audience),
			logx.String("dispatch.group", newCfg.Dispatch.Group),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if !httpEqualForRestart(oldCfg.HTTP, newCfg.HTTP) {
		out = append(out, "http")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Gateway.Driver != newCfg.Gateway.Driver ||
		oldCfg.Gateway.CredentialsFile != newCfg.Gateway.CredentialsFile ||
		oldCfg.Gateway.ProjectID != newCfg.Gateway.ProjectID ||
		oldCfg.Gateway.DryRun != newCfg.Gateway.DryRun {
		out = append(out, "gateway")
	}
	return out
}

func httpEqualForRestart(a, b HTTPConfig) bool {
	return a.Addr == b.Addr &&
		a.StaticDir == b.StaticDir &&
		slices.Equal(a.CORSOrigins, b.CORSOrigins) &&
		a.BodyLimit == b.BodyLimit &&
		a.ReadTimeout == b.ReadTimeout &&
		a.WriteTimeout == b.WriteTimeout &&
		a.Pprof == b.Pprof
}
