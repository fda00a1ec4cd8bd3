package config

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// HTTPConfig controls the public API listener.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type HTTPConfig struct {
	Addr string `json:"addr"` // default ":3000"

	// StaticDir is served at "/" when it exists (e.g. the web client and its service worker).
	StaticDir   string   `json:"static_dir,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty"` // default ["*"]
	BodyLimit   string   `json:"body_limit,omitempty"`   // echo size string, default "64K"

	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Pprof mounts net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the recipient store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tokens.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "sqlite" (default) or "file"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// GatewayConfig selects and configures the push backend.
type GatewayConfig struct {
	Driver string `json:"driver"` // "fcm" (default) or "log"

	// CredentialsFile is a Firebase service account JSON. When empty the
	// GOOGLE_APPLICATION_CREDENTIALS environment variable is used.
	CredentialsFile string `json:"credentials_file,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`

	// RatePerSec throttles gateway calls; 0 disables the limiter.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// DispatchConfig controls how "send" resolves its audience.
type DispatchConfig struct {
	// Audience is "topic" (send once to Group) or "tokens" (fan out to every stored token).
	Audience string `json:"audience"`
	Group    string `json:"group,omitempty"` // default "all"
}

type SchedulerConfig struct {
	// Timezone is an IANA name used for daily triggers and zone-less times.
	Timezone string `json:"timezone,omitempty"`
}
