package hconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"hassette.yaml",
	"hassette.yml",
	"/config/hassette.yaml",
	"/config/hassette.yml",
}

// ConfigPathEnvVar overrides the search paths with a single explicit file.
const ConfigPathEnvVar = "HASSETTE_CONFIG_PATH"

// envPrefix namespaces environment variables so only HASSETTE_-prefixed
// names are considered, unlike the teacher's flat unprefixed scheme.
const envPrefix = "HASSETTE_"

// Load loads configuration using koanf's layered sources: struct defaults,
// then an optional YAML file, then environment variables (highest
// priority), and validates the result with go-playground/validator.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("hconfig: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("hconfig: load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("hconfig: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("hconfig: unmarshal: %w", err)
	}

	if err := ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("hconfig: validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps HASSETTE_HASS_URL -> hass.url, HASSETTE_DEV_MODE ->
// dev_mode, and so on. Unlike the teacher's unprefixed scheme this package
// requires the HASSETTE_ prefix itself and strips it before consulting
// envKeyMap, so an unrelated HASS_URL left over from a shell profile never
// leaks in.
func envTransformFunc(key string) string {
	if !strings.HasPrefix(key, envPrefix) {
		return ""
	}
	trimmed := strings.TrimPrefix(key, envPrefix)
	mapped, ok := envKeyMap[trimmed]
	if !ok {
		return ""
	}
	return mapped
}

// envKeyMap enumerates the recognized environment variables explicitly,
// the same defensive approach as the teacher's envTransformFunc: unmapped
// variables are dropped rather than guessed at, so stray env vars never
// pollute the config.
var envKeyMap = map[string]string{
	"HASS_URL":   "hass.url",
	"HASS_TOKEN": "hass.token",

	"APP_DIR":    "app_dir",
	"DATA_DIR":   "data_dir",
	"CONFIG_DIR": "config_dir",

	"WEBSOCKET_TIMEOUT_SECONDS":         "websocket_timeout_seconds",
	"RUN_SYNC_TIMEOUT_SECONDS":          "run_sync_timeout_seconds",
	"TASK_CANCELLATION_TIMEOUT_SECONDS": "task_cancellation_timeout_seconds",
	"STARTUP_TIMEOUT_SECONDS":           "startup_timeout_seconds",
	"APP_STARTUP_TIMEOUT_SECONDS":       "app_startup_timeout_seconds",
	"APP_SHUTDOWN_TIMEOUT_SECONDS":      "app_shutdown_timeout_seconds",

	"SCHEDULER_MIN_DELAY_SECONDS":     "scheduler.min_delay_seconds",
	"SCHEDULER_MAX_DELAY_SECONDS":     "scheduler.max_delay_seconds",
	"SCHEDULER_DEFAULT_DELAY_SECONDS": "scheduler.default_delay_seconds",

	"SERVICE_RESTART_MAX_ATTEMPTS":        "service_restart.max_attempts",
	"SERVICE_RESTART_BACKOFF_SECONDS":     "service_restart.backoff_seconds",
	"SERVICE_RESTART_BACKOFF_MULTIPLIER":  "service_restart.backoff_multiplier",
	"SERVICE_RESTART_MAX_BACKOFF_SECONDS": "service_restart.max_backoff_seconds",

	"DEV_MODE":               "dev_mode",
	"ALLOW_RELOAD_IN_PROD":   "allow_reload_in_prod",
	"ALLOW_ONLY_APP_IN_PROD": "allow_only_app_in_prod",

	"LOG_LEVEL":  "logging.log_level",
	"LOG_FORMAT": "logging.log_format",

	"RUN_HEALTH_SERVICE":  "health.run_health_service",
	"HEALTH_SERVICE_PORT": "health.health_service_port",

	"NATSBRIDGE_ENABLED": "natsbridge.enabled",
	"NATSBRIDGE_URL":     "natsbridge.url",
	"NATSBRIDGE_SUBJECT": "natsbridge.subject",
}
