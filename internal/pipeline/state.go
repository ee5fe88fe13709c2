// Package pipeline drives one build job through fetch, extract, compile,
// link and pack, reporting progress and honouring cancellation.
package pipeline

import (
	stderrors "errors"
	"fmt"
	"time"

	"git.home.luguber.info/inful/x360make/internal/foundation/normalization"
)

// State is the position of the active job in the pipeline.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateExtracting
	StateCompiling
	StateLinking
	StatePacking
	StateSucceeded
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateFetching:   "fetching",
	StateExtracting: "extracting",
	StateCompiling:  "compiling",
	StateLinking:    "linking",
	StatePacking:    "packing",
	StateSucceeded:  "succeeded",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s within a job.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Mode selects where the source comes from.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

var modeNormalizer = normalization.NewNormalizer("mode", map[string]Mode{
	"auto":   ModeAuto,
	"local":  ModeLocal,
	"dir":    ModeLocal,
	"remote": ModeRemote,
	"url":    ModeRemote,
}, ModeAuto)

// ParseMode converts a CLI value to a Mode. Empty input means ModeAuto.
func ParseMode(raw string) (Mode, error) {
	return modeNormalizer.Parse(raw)
}

// Progress is one progress report. Percent is in [0,100] and never
// decreases while State stays the same.
type Progress struct {
	State   State
	Percent int
}

// ProgressFunc receives progress reports. Calls are serialised.
type ProgressFunc func(Progress)

// Transition is one state change of a job.
type Transition struct {
	JobID  string
	Source string
	From   State
	To     State
	At     time.Time
}

// Observer is notified about job transitions and completion. Calls happen on
// the goroutine running the job and must not block for long.
type Observer interface {
	OnStateChange(t Transition)
	OnBuildComplete(res *Result)
}

// Result is the outcome of one RunBuild call.
type Result struct {
	JobID    string
	Source   string
	Mode     Mode
	State    State
	Artifact string   // packed image, empty in makefile mode
	Objects  []string // object files in link order
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Succeeded reports whether the job reached StateSucceeded.
func (r *Result) Succeeded() bool { return r != nil && r.State == StateSucceeded }

// StageErrorKind enumerates structured stage error categories.
type StageErrorKind string

const (
	StageErrorFatal    StageErrorKind = "fatal"    // Build must abort.
	StageErrorCanceled StageErrorKind = "canceled" // Context cancellation.
)

// StageError is a structured error carrying category and underlying cause.
type StageError struct {
	Kind  StageErrorKind
	Stage State
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage %s: %v", e.Kind, e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

var (
	// ErrNoUnits is returned when the build root holds no compilation units.
	ErrNoUnits = stderrors.New("no compilation units found")
	// ErrCancelled marks a job that was cancelled or superseded.
	ErrCancelled = stderrors.New("build cancelled")
)
