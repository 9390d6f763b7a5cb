package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `mapstructure:"defaultlevel" yaml:"defaultlevel"` // default level for all modules
	Timezone     string            `mapstructure:"timezone" yaml:"timezone"`         // "Local", "UTC" or an IANA name
	Console      ConsoleOutput     `mapstructure:"console" yaml:"console"`
	FileOutput   FileOutput        `mapstructure:"file" yaml:"file"`
	ModuleLevels map[string]string `mapstructure:"modulelevels" yaml:"modulelevels"` // per-module level overrides
}

// ConsoleOutput represents console logging configuration.
type ConsoleOutput struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Level   string `mapstructure:"level" yaml:"level"`
	JSON    bool   `mapstructure:"json" yaml:"json"` // JSON instead of text, for log collectors
}

// FileOutput represents file logging configuration. File output is always JSON.
type FileOutput struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Level   string `mapstructure:"level" yaml:"level"`
}

// Default values for logging configuration.
const (
	DefaultLogLevel = "info"
	DefaultLogPath  = "logs/soundbird.log"
)

func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput.Level == "" {
		cfg.FileOutput.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput.Enabled && cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = DefaultLogPath
	}
}
