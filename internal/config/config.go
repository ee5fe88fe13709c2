package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "x360make.yaml"

// Config represents the application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Build     BuildConfig     `yaml:"build"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Extract   ExtractConfig   `yaml:"extract"`
	History   HistoryConfig   `yaml:"history"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// LogConfig configures the rotating log file and console echo.
type LogConfig struct {
	File       string   `yaml:"file"`
	MaxSize    int64    `yaml:"max_size"` // bytes before rotation
	Console    bool     `yaml:"console"`
	Level      LogLevel `yaml:"level"`
	QueueDepth int      `yaml:"queue_depth"`
}

// ToolConfig names an external executable and its extra arguments.
type ToolConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args,omitempty"`
}

// LinkerConfig adds the optional linker script to ToolConfig.
type LinkerConfig struct {
	ToolConfig `yaml:",inline"`
	Script     string `yaml:"script,omitempty"`
}

// ToolchainConfig lists the external build tools. Relative paths containing a
// directory separator are resolved against Root; bare names go through PATH.
type ToolchainConfig struct {
	Root     string       `yaml:"root,omitempty"`
	Compiler ToolConfig   `yaml:"compiler"`
	Linker   LinkerConfig `yaml:"linker"`
	Packer   ToolConfig   `yaml:"packer"`
	Make     ToolConfig   `yaml:"make"`
}

// BuildConfig controls unit discovery, compilation and outputs.
type BuildConfig struct {
	SourceExtensions []string `yaml:"source_extensions"`
	IncludeDirs      []string `yaml:"include_dirs"`
	CompileWorkers   int      `yaml:"compile_workers"`
	OutputDir        string   `yaml:"output_dir"`
	OutputName       string   `yaml:"output_name"`
	UseMakefile      bool     `yaml:"use_makefile"`
	Recursive        bool     `yaml:"recursive"`
	RetainStaging    bool     `yaml:"retain_staging"`
	StagingDir       string   `yaml:"staging_dir,omitempty"` // empty: OS temp dir
}

// FetchConfig controls remote source acquisition.
type FetchConfig struct {
	Strategy           FetchStrategy    `yaml:"strategy"`
	Branches           []string         `yaml:"branches"`
	ArchiveURLTemplate string           `yaml:"archive_url_template"`
	MaxRetries         int              `yaml:"max_retries"`
	RetryBackoff       RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay  time.Duration    `yaml:"retry_initial_delay"`
	RetryMaxDelay      time.Duration    `yaml:"retry_max_delay"`
	Timeout            time.Duration    `yaml:"timeout"`
}

// ExtractConfig tunes the parallel zip extractor.
type ExtractConfig struct {
	Workers      int   `yaml:"workers"`
	MaxEntrySize int64 `yaml:"max_entry_size"`
	BufferSize   int   `yaml:"buffer_size"`
}

// HistoryConfig locates the build history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DaemonConfig drives the daemon and watch commands.
type DaemonConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	WatchDebounce    time.Duration `yaml:"watch_debounce"`
	StagingRetention time.Duration `yaml:"staging_retention"`
}

// NotifyConfig enables NATS build events when NATSURL is set.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject"`
}

// Load reads configuration from configPath. A missing file yields defaults.
// Environment variables from .env/.env.local are loaded first and ${VAR}
// references in the file are expanded.
func Load(configPath string) (*Config, error) {
	loadEnvFile()

	cfg := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Notify.NATSURL = "${X360MAKE_NATS_URL}"

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}

	header := "# x360make configuration\n# Relative toolchain paths resolve against toolchain.root (default: the x360make binary's directory).\n"
	if err := os.WriteFile(configPath, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
