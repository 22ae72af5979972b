// Package hconfig loads and validates Hassette's runtime configuration,
// adapted from the teacher's koanf-based layered loader (struct defaults ->
// YAML file -> environment variables) and its go-playground/validator
// wrapper, narrowed to the settings §6 of the specification recognizes.
package hconfig

import "time"

// AppManifest describes one entry under the apps config key: where its
// class lives, whether it's enabled, and its (possibly multi-instance)
// config payload.
type AppManifest struct {
	Filename  string           `koanf:"filename" validate:"required"`
	ClassName string           `koanf:"class_name" validate:"required"`
	Enabled   bool             `koanf:"enabled"`
	AppConfig []map[string]any `koanf:"app_config"`
	Only      bool             `koanf:"only"`
}

// Config is the root Hassette configuration, loaded by Load.
type Config struct {
	Hass HassConfig `koanf:"hass"`

	Apps map[string]AppManifest `koanf:"apps"`

	AppDir    string `koanf:"app_dir" validate:"required"`
	DataDir   string `koanf:"data_dir" validate:"required"`
	ConfigDir string `koanf:"config_dir" validate:"required"`

	WebsocketTimeoutSeconds        int `koanf:"websocket_timeout_seconds" validate:"gt=0"`
	RunSyncTimeoutSeconds          int `koanf:"run_sync_timeout_seconds" validate:"gt=0"`
	TaskCancellationTimeoutSeconds int `koanf:"task_cancellation_timeout_seconds" validate:"gt=0"`
	StartupTimeoutSeconds          int `koanf:"startup_timeout_seconds" validate:"gt=0"`
	AppStartupTimeoutSeconds       int `koanf:"app_startup_timeout_seconds" validate:"gt=0"`
	AppShutdownTimeoutSeconds      int `koanf:"app_shutdown_timeout_seconds" validate:"gt=0"`

	Scheduler SchedulerConfig `koanf:"scheduler"`

	ServiceRestart ServiceRestartConfig `koanf:"service_restart"`

	DevMode            bool `koanf:"dev_mode"`
	AllowReloadInProd  bool `koanf:"allow_reload_in_prod"`
	AllowOnlyAppInProd bool `koanf:"allow_only_app_in_prod"`

	Logging LoggingConfig `koanf:"logging"`

	Health HealthConfig `koanf:"health"`

	NATSBridge NATSBridgeConfig `koanf:"natsbridge"`
}

// HassConfig holds the upstream connection credentials.
type HassConfig struct {
	URL   string `koanf:"url" validate:"required,url"`
	Token string `koanf:"token" validate:"required"`
}

// SchedulerConfig bounds the scheduler loop's sleep between checks for due
// jobs: MinDelaySeconds and MaxDelaySeconds clamp the wait, and
// DefaultDelaySeconds is used when no job is queued.
type SchedulerConfig struct {
	MinDelaySeconds     int `koanf:"min_delay_seconds" validate:"gte=0"`
	MaxDelaySeconds     int `koanf:"max_delay_seconds" validate:"gtfield=MinDelaySeconds"`
	DefaultDelaySeconds int `koanf:"default_delay_seconds" validate:"gte=0"`
}

// ServiceRestartConfig configures the service watcher's backoff policy.
type ServiceRestartConfig struct {
	MaxAttempts       int     `koanf:"max_attempts" validate:"gt=0"`
	BackoffSeconds    float64 `koanf:"backoff_seconds" validate:"gt=0"`
	BackoffMultiplier float64 `koanf:"backoff_multiplier" validate:"gt=0"`
	MaxBackoffSeconds float64 `koanf:"max_backoff_seconds" validate:"gt=0"`
}

// LoggingConfig configures the global logger plus per-component overrides.
type LoggingConfig struct {
	Level           string            `koanf:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format          string            `koanf:"log_format" validate:"omitempty,oneof=json console"`
	ComponentLevels map[string]string `koanf:"component_levels"`
}

// HealthConfig configures the chi-based health HTTP server.
type HealthConfig struct {
	Run  bool `koanf:"run_health_service"`
	Port int  `koanf:"health_service_port" validate:"gt=0,lte=65535"`
}

// NATSBridgeConfig is an ambient extension (§2 domain stack): a no-op unless
// built with the natsbridge tag, which wires Watermill's NATS pub/sub
// transport as an alternate ingress/egress for the bus.
type NATSBridgeConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// timeouts returns the configured timeouts as time.Durations, for callers
// that would otherwise repeat the *time.Second conversion.
func (c Config) timeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"websocket":         time.Duration(c.WebsocketTimeoutSeconds) * time.Second,
		"run_sync":          time.Duration(c.RunSyncTimeoutSeconds) * time.Second,
		"task_cancellation": time.Duration(c.TaskCancellationTimeoutSeconds) * time.Second,
		"startup":           time.Duration(c.StartupTimeoutSeconds) * time.Second,
		"app_startup":       time.Duration(c.AppStartupTimeoutSeconds) * time.Second,
		"app_shutdown":      time.Duration(c.AppShutdownTimeoutSeconds) * time.Second,
	}
}
