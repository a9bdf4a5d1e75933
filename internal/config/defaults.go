package config

const (
	defaultDataDir      = "~/.local/share/magpie"
	defaultCacheDir     = "~/.local/share/magpie/cache"
	defaultLibraryDir   = "~/magpie-library"
	defaultLogDir       = "~/.local/share/magpie/logs"
	defaultLogFormat    = "console"
	defaultLogLevel     = "info"
	defaultLLMBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel     = "google/gemini-3-flash-preview"
	defaultVisionModel  = "google/gemini-3-flash-preview"
	defaultLLMTimeout   = 60
	defaultBatchLimit   = 50
	defaultFetchTimeout = 30

	defaultNetworkWorkers = 4
	defaultModelWorkers   = 2
	defaultDocWorkers     = 4
	defaultRetryAttempts  = 3
	defaultRetryBackoff   = 2
	defaultTuneSlowMillis = 20000
	defaultTuneFastMillis = 5000
	defaultTimingWindow   = 20
	defaultStuckRunMins   = 120

	defaultSynthesisMinGroup = 3
	defaultPublishBranch     = "main"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			CacheDir:   defaultCacheDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
		},
		Source: Source{
			BatchLimit:     defaultBatchLimit,
			RequestTimeout: defaultFetchTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeout,
		},
		Vision: Vision{
			Enabled: true,
			Model:   defaultVisionModel,
		},
		Workflow: Workflow{
			NetworkWorkers:         defaultNetworkWorkers,
			ModelWorkers:           defaultModelWorkers,
			DocWorkers:             defaultDocWorkers,
			RetryAttempts:          defaultRetryAttempts,
			RetryBackoff:           defaultRetryBackoff,
			TuneSlowMillis:         defaultTuneSlowMillis,
			TuneFastMillis:         defaultTuneFastMillis,
			TimingWindow:           defaultTimingWindow,
			StuckRunTimeoutMinutes: defaultStuckRunMins,
		},
		Synthesis: Synthesis{
			Enabled:      true,
			MinGroupSize: defaultSynthesisMinGroup,
		},
		Publish: Publish{
			Branch: defaultPublishBranch,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
