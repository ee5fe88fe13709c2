package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID      = "job_id"
	KeyStage      = "stage"
	KeyState      = "state"
	KeyMode       = "mode"
	KeyDurationMS = "duration_ms"
	KeySource     = "source"
	KeyURL        = "url"
	KeyBranch     = "branch"
	KeyAttempt    = "attempt"
	KeyPath       = "path"
	KeyUnit       = "unit"
	KeyTool       = "tool"
	KeyExitCode   = "exit_code"
	KeyPercent    = "percent"
	KeyWorkers    = "workers"
	KeyEntries    = "entries"
	KeySchedule   = "schedule_name"
	KeySubject    = "subject"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Mode(m string) slog.Attr         { return slog.String(KeyMode, m) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Source(s string) slog.Attr       { return slog.String(KeySource, s) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Unit(u string) slog.Attr         { return slog.String(KeyUnit, u) }
func Tool(t string) slog.Attr         { return slog.String(KeyTool, t) }
func ExitCode(c int) slog.Attr        { return slog.Int(KeyExitCode, c) }
func Percent(p int) slog.Attr         { return slog.Int(KeyPercent, p) }
func Workers(n int) slog.Attr         { return slog.Int(KeyWorkers, n) }
func Entries(n int) slog.Attr         { return slog.Int(KeyEntries, n) }
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
