package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultMaxLogSize     int64 = 10 * 1024 * 1024
	DefaultLogQueueDepth        = 10000
	DefaultExtractWorkers       = 4
	DefaultMaxEntrySize   int64 = 1 << 30
	DefaultBufferSize           = 32 * 1024
	DefaultArchiveURL           = "{repo}/archive/refs/heads/{branch}.zip"
	DefaultNATSSubject          = "x360make.builds"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			File:       "x360make.log",
			MaxSize:    DefaultMaxLogSize,
			Console:    true,
			Level:      LogLevelInfo,
			QueueDepth: DefaultLogQueueDepth,
		},
		Toolchain: ToolchainConfig{
			Compiler: ToolConfig{Path: filepath.Join("embedded", "x360make_gcc"), Args: []string{"-ffreestanding", "-nostdlib"}},
			Linker:   LinkerConfig{ToolConfig: ToolConfig{Path: filepath.Join("embedded", "x360make_ld")}, Script: "crt/xex.ld"},
			Packer:   ToolConfig{Path: filepath.Join("embedded", "x360make_pack")},
			Make:     ToolConfig{Path: defaultMake()},
		},
		Build: BuildConfig{
			SourceExtensions: []string{".cpp"},
			IncludeDirs:      []string{"core", "jit", "ui"},
			CompileWorkers:   runtime.NumCPU(),
			OutputDir:        "out",
			OutputName:       "main",
			UseMakefile:      true,
		},
		Fetch: FetchConfig{
			Strategy:           FetchStrategyArchive,
			Branches:           []string{"main", "master"},
			ArchiveURLTemplate: DefaultArchiveURL,
			MaxRetries:         3,
			RetryBackoff:       RetryBackoffFixed,
			RetryInitialDelay:  2 * time.Second,
			RetryMaxDelay:      30 * time.Second,
			Timeout:            5 * time.Minute,
		},
		Extract: ExtractConfig{
			Workers:      DefaultExtractWorkers,
			MaxEntrySize: DefaultMaxEntrySize,
			BufferSize:   DefaultBufferSize,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(".x360make", "history.db"),
		},
		Daemon: DaemonConfig{
			Interval:         time.Hour,
			MetricsAddr:      ":9360",
			WatchDebounce:    500 * time.Millisecond,
			StagingRetention: 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Subject: DefaultNATSSubject,
		},
	}
}

func defaultMake() string {
	if runtime.GOOS == "windows" {
		return "mingw32-make"
	}
	return "make"
}

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// appliers repair zero or out-of-range values left by a partial file.
var appliers = []DefaultApplier{
	&logDefaultApplier{},
	&toolchainDefaultApplier{},
	&buildDefaultApplier{},
	&fetchDefaultApplier{},
	&extractDefaultApplier{},
	&daemonDefaultApplier{},
}

func applyDefaults(cfg *Config) error {
	for _, a := range appliers {
		if err := a.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("apply %s defaults: %w", a.Domain(), err)
		}
	}
	return nil
}

type logDefaultApplier struct{}

func (logDefaultApplier) Domain() string { return "log" }

func (logDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Log.MaxSize <= 0 {
		cfg.Log.MaxSize = DefaultMaxLogSize
	}
	if cfg.Log.QueueDepth <= 0 {
		cfg.Log.QueueDepth = DefaultLogQueueDepth
	}
	lvl, err := ParseLogLevel(string(cfg.Log.Level))
	if err != nil {
		return err
	}
	cfg.Log.Level = lvl
	return nil
}

type toolchainDefaultApplier struct{}

func (toolchainDefaultApplier) Domain() string { return "toolchain" }

func (toolchainDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Toolchain.Root != "" {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		cfg.Toolchain.Root = "."
		return nil
	}
	cfg.Toolchain.Root = filepath.Dir(exe)
	return nil
}

type buildDefaultApplier struct{}

func (buildDefaultApplier) Domain() string { return "build" }

func (buildDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Build.CompileWorkers <= 0 {
		cfg.Build.CompileWorkers = runtime.NumCPU()
	}
	if len(cfg.Build.SourceExtensions) == 0 {
		cfg.Build.SourceExtensions = []string{".cpp"}
	}
	for i, ext := range cfg.Build.SourceExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Build.SourceExtensions[i] = ext
	}
	if cfg.Build.OutputDir == "" {
		cfg.Build.OutputDir = "out"
	}
	if cfg.Build.OutputName == "" {
		cfg.Build.OutputName = "main"
	}
	return nil
}

type fetchDefaultApplier struct{}

func (fetchDefaultApplier) Domain() string { return "fetch" }

func (fetchDefaultApplier) ApplyDefaults(cfg *Config) error {
	strategy, err := ParseFetchStrategy(string(cfg.Fetch.Strategy))
	if err != nil {
		return err
	}
	cfg.Fetch.Strategy = strategy

	mode := NormalizeRetryBackoff(string(cfg.Fetch.RetryBackoff))
	if mode == "" {
		mode = RetryBackoffFixed
	}
	cfg.Fetch.RetryBackoff = mode

	if len(cfg.Fetch.Branches) == 0 {
		cfg.Fetch.Branches = []string{"main", "master"}
	}
	if cfg.Fetch.ArchiveURLTemplate == "" {
		cfg.Fetch.ArchiveURLTemplate = DefaultArchiveURL
	}
	if cfg.Fetch.MaxRetries < 0 {
		cfg.Fetch.MaxRetries = 0
	}
	if cfg.Fetch.RetryInitialDelay <= 0 {
		cfg.Fetch.RetryInitialDelay = 2 * time.Second
	}
	if cfg.Fetch.RetryMaxDelay <= 0 {
		cfg.Fetch.RetryMaxDelay = 30 * time.Second
	}
	return nil
}

type extractDefaultApplier struct{}

func (extractDefaultApplier) Domain() string { return "extract" }

func (extractDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Extract.Workers <= 0 {
		cfg.Extract.Workers = DefaultExtractWorkers
	}
	if cfg.Extract.MaxEntrySize <= 0 {
		cfg.Extract.MaxEntrySize = DefaultMaxEntrySize
	}
	if cfg.Extract.BufferSize <= 0 {
		cfg.Extract.BufferSize = DefaultBufferSize
	}
	return nil
}

type daemonDefaultApplier struct{}

func (daemonDefaultApplier) Domain() string { return "daemon" }

func (daemonDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Daemon.WatchDebounce <= 0 {
		cfg.Daemon.WatchDebounce = 500 * time.Millisecond
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = DefaultNATSSubject
	}
	return nil
}
