package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `yaml:"default_level" json:"default_level" mapstructure:"default_level"` // default log level for all modules
	Timezone      string                  `yaml:"timezone" json:"timezone" mapstructure:"timezone"`                // "Local", "UTC", or IANA timezone name
	Console       *ConsoleOutput          `yaml:"console" json:"console" mapstructure:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" json:"file_output" mapstructure:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" json:"modules" mapstructure:"modules"`                   // per-module output configuration
	ModuleLevels  map[string]string       `yaml:"module_levels" json:"module_levels" mapstructure:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration (text format)
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" json:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration (JSON lines)
type FileOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
	Level   string `yaml:"level" json:"level" mapstructure:"level"`
}

// ModuleOutput represents per-module output configuration
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	FilePath    string `yaml:"file_path" json:"file_path" mapstructure:"file_path"`
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	ConsoleAlso bool   `yaml:"console_also" json:"console_also" mapstructure:"console_also"`
}

// Default values for logging configuration.
// These match the defaults in conf/defaults.go.
const (
	DefaultLogLevel       = "info"
	DefaultLogPath        = "logs/countertop.log"
	DefaultConsoleEnabled = true
	DefaultFileEnabled    = false
)

// applyConfigDefaults fills nil sections so a partial config still logs somewhere
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: DefaultFileEnabled,
			Path:    DefaultLogPath,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}
}
