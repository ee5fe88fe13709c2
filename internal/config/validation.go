package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateConfig validates a configuration after defaults were applied.
func ValidateConfig(cfg *Config) error {
	cv := &configurationValidator{config: cfg}
	return cv.validate()
}

type configurationValidator struct {
	config *Config
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateToolchain(); err != nil {
		return err
	}
	if err := cv.validateBuild(); err != nil {
		return err
	}
	if err := cv.validateFetch(); err != nil {
		return err
	}
	if err := cv.validateExtract(); err != nil {
		return err
	}
	return cv.validateDaemon()
}

func (cv *configurationValidator) validateToolchain() error {
	tc := cv.config.Toolchain
	for name, path := range map[string]string{
		"compiler": tc.Compiler.Path,
		"linker":   tc.Linker.Path,
		"packer":   tc.Packer.Path,
	} {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("toolchain.%s.path must be set", name)
		}
	}
	if cv.config.Build.UseMakefile && strings.TrimSpace(tc.Make.Path) == "" {
		return errors.New("toolchain.make.path must be set when build.use_makefile is enabled")
	}
	return nil
}

func (cv *configurationValidator) validateBuild() error {
	b := cv.config.Build
	for _, ext := range b.SourceExtensions {
		if len(ext) < 2 {
			return fmt.Errorf("build.source_extensions: invalid extension %q", ext)
		}
	}
	if strings.ContainsAny(b.OutputName, `/\`) {
		return fmt.Errorf("build.output_name must be a bare file name, got %q", b.OutputName)
	}
	for _, inc := range b.IncludeDirs {
		if filepath.IsAbs(inc) {
			continue
		}
		if !filepath.IsLocal(inc) {
			return fmt.Errorf("build.include_dirs: %q escapes the build root", inc)
		}
	}
	return nil
}

func (cv *configurationValidator) validateFetch() error {
	f := cv.config.Fetch
	if f.Strategy == FetchStrategyArchive {
		if !strings.Contains(f.ArchiveURLTemplate, "{repo}") || !strings.Contains(f.ArchiveURLTemplate, "{branch}") {
			return fmt.Errorf("fetch.archive_url_template must contain {repo} and {branch}, got %q", f.ArchiveURLTemplate)
		}
	}
	for _, b := range f.Branches {
		if strings.TrimSpace(b) == "" {
			return errors.New("fetch.branches must not contain empty names")
		}
	}
	if f.Timeout < 0 {
		return errors.New("fetch.timeout cannot be negative")
	}
	return nil
}

func (cv *configurationValidator) validateExtract() error {
	if cv.config.Extract.BufferSize < 512 {
		return fmt.Errorf("extract.buffer_size too small: %d", cv.config.Extract.BufferSize)
	}
	return nil
}

func (cv *configurationValidator) validateDaemon() error {
	if cv.config.Daemon.Interval < 0 {
		return errors.New("daemon.interval cannot be negative")
	}
	if cv.config.Daemon.StagingRetention < 0 {
		return errors.New("daemon.staging_retention cannot be negative")
	}
	return nil
}
