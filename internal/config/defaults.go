package config

const (
	defaultDataDir                 = "~/.local/share/mnemo"
	defaultLogDir                  = "~/.local/share/mnemo/logs"
	defaultWorkerBinary            = "mnemo-worker"
	defaultStartupDeadlineSeconds  = 20
	defaultHandshakeTimeoutSeconds = 10
	defaultRequestTimeoutSeconds   = 30
	defaultIdleTimeoutSeconds      = 300
	defaultShutdownGraceSeconds    = 5
	defaultBackoffBaseMs           = 500
	defaultBackoffMultiplier       = 2.0
	defaultBackoffMaxMs            = 30000
	defaultJitterFactor            = 0.2
	defaultMaxAttempts             = 5
	defaultStderrMaxLines          = 100
	defaultStderrMaxChars          = 16384
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Daemon: Daemon{
			Enabled:                 true,
			WorkerBinary:            defaultWorkerBinary,
			StartupDeadlineSeconds:  defaultStartupDeadlineSeconds,
			HandshakeTimeoutSeconds: defaultHandshakeTimeoutSeconds,
			RequestTimeoutSeconds:   defaultRequestTimeoutSeconds,
			IdleTimeoutSeconds:      defaultIdleTimeoutSeconds,
			ShutdownGraceSeconds:    defaultShutdownGraceSeconds,
		},
		Recovery: Recovery{
			BackoffBaseMs:     defaultBackoffBaseMs,
			BackoffMultiplier: defaultBackoffMultiplier,
			BackoffMaxMs:      defaultBackoffMaxMs,
			JitterFactor:      defaultJitterFactor,
			MaxAttempts:       defaultMaxAttempts,
		},
		Diagnostics: Diagnostics{
			StderrMaxLines: defaultStderrMaxLines,
			StderrMaxChars: defaultStderrMaxChars,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
