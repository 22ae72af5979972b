package hconfig

// defaultConfig returns a Config with all sensible default values, applied
// before the config file and environment layers, mirroring the teacher's
// defaultConfig in internal/config/koanf.go.
func defaultConfig() *Config {
	return &Config{
		AppDir:    "/config/apps",
		DataDir:   "/data",
		ConfigDir: "/config",

		WebsocketTimeoutSeconds:        10,
		RunSyncTimeoutSeconds:          30,
		TaskCancellationTimeoutSeconds: 5,
		StartupTimeoutSeconds:          30,
		AppStartupTimeoutSeconds:       10,
		AppShutdownTimeoutSeconds:      10,

		Scheduler: SchedulerConfig{
			MinDelaySeconds:     1,
			MaxDelaySeconds:     86400,
			DefaultDelaySeconds: 1,
		},

		ServiceRestart: ServiceRestartConfig{
			MaxAttempts:       5,
			BackoffSeconds:    1,
			BackoffMultiplier: 2,
			MaxBackoffSeconds: 60,
		},

		DevMode:            false,
		AllowReloadInProd:  false,
		AllowOnlyAppInProd: false,

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Health: HealthConfig{
			Run:  true,
			Port: 8126,
		},

		NATSBridge: NATSBridgeConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "hassette.events",
		},
	}
}
