package config

// Config is the on-disk configuration of pushgated.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Correlation CorrelationConfig `json:"correlation"`
	Permission  PermissionConfig  `json:"permission"`
	Presenter   PresenterConfig   `json:"presenter"`
	Dispatcher  DispatcherConfig  `json:"dispatcher"`
	Events      EventsConfig      `json:"events"`
	Bridge      BridgeConfig      `json:"bridge"`
	Metrics     *MetricsConfig    `json:"metrics,omitempty"`
	Debug       DebugConfig       `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CorrelationConfig selects the store that carries requester identities from
// the ingress permission check to the display call.
//
// Driver values:
//   - "memory" (default): in-process map
//   - "sqlite": database file shared by processes on one host
//   - "redis": shared across hosts
//
// Defaults:
//   - ttl: "2m"
//   - sweep: "@every 30s" (cron spec)
//   - max_entries: 10000 (memory only)
type CorrelationConfig struct {
	Driver     string      `json:"driver"`
	Path       string      `json:"path,omitempty"`
	TTL        string      `json:"ttl,omitempty"`
	Sweep      string      `json:"sweep,omitempty"`
	MaxEntries int         `json:"max_entries,omitempty"`
	Redis      RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// PermissionConfig controls the authority consulted by the permission gate.
//
// Policy values:
//   - "allow_all" (default): every request is granted
//   - "cel": Deny and Allow are CEL expressions evaluated in order (deny first)
//
// Default is the status reported when no cel rule matches: "granted", "denied"
// or "ask" (default).
//
// RatePerOrigin > 0 wraps the authority in a per-origin token bucket; requests
// over the limit report "ask".
type PermissionConfig struct {
	Policy        string   `json:"policy"`
	Default       string   `json:"default,omitempty"`
	Allow         []string `json:"allow,omitempty"`
	Deny          []string `json:"deny,omitempty"`
	RatePerOrigin float64  `json:"rate_per_origin,omitempty"`
	Burst         int      `json:"burst,omitempty"`
}

// PresenterConfig selects the platform presenter.
//
// Driver values: "headless" (default), "desktop" (freedesktop D-Bus), "telegram", "none".
type PresenterConfig struct {
	Driver        string         `json:"driver"`
	AppName       string         `json:"app_name,omitempty"`
	ExpireTimeout string         `json:"expire_timeout,omitempty"`
	Telegram      TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type DispatcherConfig struct {
	QueueSize int `json:"queue_size,omitempty"`
}

type EventsConfig struct {
	// IncludeContent adds title and body to emitted lifecycle events.
	IncludeContent bool `json:"include_content"`
	Buffer         int  `json:"buffer,omitempty"`
}

// BridgeConfig controls the local unix-socket bridge used by the embedding host.
type BridgeConfig struct {
	Enabled bool   `json:"enabled"`
	Socket  string `json:"socket,omitempty"`
}

// MetricsConfig enables OTLP export of diagnostic counters.
type MetricsConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint"`
	Interval     string `json:"interval,omitempty"`
	Insecure     bool   `json:"insecure,omitempty"`
}

// DebugConfig controls the operator HTTP endpoint (healthz, stats, pprof).
//
// Security:
//   - Prefer binding to localhost (default "127.0.0.1:6060").
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Default returns a config usable without any file on disk.
func Default() *Config {
	return &Config{
		Logging:     LoggingConfig{Level: "info", Console: true},
		Correlation: CorrelationConfig{Driver: "memory"},
		Permission:  PermissionConfig{Policy: "allow_all"},
		Presenter:   PresenterConfig{Driver: "headless", AppName: "pushgate"},
		Bridge:      BridgeConfig{Enabled: true, Socket: "/tmp/pushgate.sock"},
		Debug:       DebugConfig{Addr: "127.0.0.1:6060"},
	}
}
