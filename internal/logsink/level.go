package logsink

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is the severity of a record. Values line up with slog so the handler
// adapter can compare them directly.
type Level int

const (
	LevelDebug   Level = Level(slog.LevelDebug)
	LevelInfo    Level = Level(slog.LevelInfo)
	LevelWarning Level = Level(slog.LevelWarn)
	LevelError   Level = Level(slog.LevelError)
	LevelFatal   Level = Level(slog.LevelError + 4)
)

func (l Level) String() string {
	switch {
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarning:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	case l < LevelFatal:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// FromSlog buckets an arbitrary slog level into the sink's five levels.
func FromSlog(l slog.Level) Level {
	switch lv := Level(l); {
	case lv < LevelInfo:
		return LevelDebug
	case lv < LevelWarning:
		return LevelInfo
	case lv < LevelError:
		return LevelWarning
	case lv < LevelFatal:
		return LevelError
	default:
		return LevelFatal
	}
}

// ParseLevel accepts debug, info, warn/warning, error and fatal (any case).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}
