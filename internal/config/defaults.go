package config

const (
	defaultDataDir            = "~/.local/share/archon/data"
	defaultLogDir             = "~/.local/share/archon/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultWorkers            = 4
	defaultDispatchInterval   = 10
	defaultPromotionInterval  = 30
	defaultBatchSize          = 100
	defaultPageSize           = 200
	defaultErrorRetryInterval = 15
	defaultNotifyStream       = "ARCHON"
	defaultNotifyTimeout      = 10
	defaultFileStoreTimeout   = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Scheduler: Scheduler{
			Workers:            defaultWorkers,
			DispatchInterval:   defaultDispatchInterval,
			PromotionInterval:  defaultPromotionInterval,
			BatchSize:          defaultBatchSize,
			PageSize:           defaultPageSize,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			Enabled:        false,
			Stream:         defaultNotifyStream,
			RequestTimeout: defaultNotifyTimeout,
		},
		FileStorage: FileStorage{
			RequestTimeout: defaultFileStoreTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
