package config

import (
	"git.home.luguber.info/inful/x360make/internal/foundation/normalization"
)

// LogLevel enumerates the log sink's severity threshold.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelFatal   LogLevel = "fatal"
)

var logLevelNormalizer = normalization.NewNormalizer("log level", map[string]LogLevel{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warn":    LogLevelWarning,
	"warning": LogLevelWarning,
	"error":   LogLevelError,
	"fatal":   LogLevelFatal,
}, LogLevelInfo)

// ParseLogLevel maps raw onto a LogLevel; empty means info.
func ParseLogLevel(raw string) (LogLevel, error) {
	return logLevelNormalizer.Parse(raw)
}

// FetchStrategy selects how remote sources are acquired.
type FetchStrategy string

const (
	FetchStrategyArchive FetchStrategy = "archive" // HTTP zip download
	FetchStrategyGit     FetchStrategy = "git"     // shallow clone
)

var fetchStrategyNormalizer = normalization.NewNormalizer("fetch strategy", map[string]FetchStrategy{
	"archive": FetchStrategyArchive,
	"zip":     FetchStrategyArchive,
	"git":     FetchStrategyGit,
	"clone":   FetchStrategyGit,
}, FetchStrategyArchive)

// ParseFetchStrategy maps raw onto a FetchStrategy; empty means archive.
func ParseFetchStrategy(raw string) (FetchStrategy, error) {
	return fetchStrategyNormalizer.Parse(raw)
}
