package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/extract"
	"git.home.luguber.info/inful/x360make/internal/fetch"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/metrics"
	"git.home.luguber.info/inful/x360make/internal/toolchain"
	"git.home.luguber.info/inful/x360make/internal/workspace"
)

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, workers int) (extract.Result, error)
}

// Deps are the capabilities the orchestrator drives.
type Deps struct {
	Fetcher   fetch.Fetcher
	Extractor Extractor
	Runner    toolchain.Runner
	Workspace *workspace.Manager
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for job output.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgress installs the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progressFn = fn }
}

// WithObserver adds an observer. Observers are called in registration order.
func WithObserver(obs ...Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs...) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// Orchestrator runs build jobs one at a time. A new RunBuild supersedes the
// job in flight.
type Orchestrator struct {
	cfg        *config.Config
	deps       Deps
	tools      *toolchain.Toolchain
	logger     *slog.Logger
	progressFn ProgressFunc
	observers  []Observer
	recorder   metrics.Recorder

	state atomic.Int32

	// mu guards cancel and seq. cancel belongs to the newest request, which
	// is either running or waiting for runMu.
	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64

	// runMu is held by the job that executes stages.
	runMu sync.Mutex

	progressMu   sync.Mutex
	lastProgress Progress
}

// New creates an orchestrator. Missing dependencies fall back to the
// production implementations.
func New(cfg *config.Config, deps Deps, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deps.Fetcher == nil {
		o.deps.Fetcher = defaultFetcher(cfg, o.logger)
	}
	if o.deps.Extractor == nil {
		o.deps.Extractor = extract.New(
			extract.WithMaxEntrySize(cfg.Extract.MaxEntrySize),
			extract.WithBufferSize(cfg.Extract.BufferSize),
			extract.WithLogger(o.logger),
		)
	}
	if o.deps.Runner == nil {
		o.deps.Runner = toolchain.ExecRunner{}
	}
	if o.deps.Workspace == nil {
		o.deps.Workspace = workspace.NewManager(cfg.Build.StagingDir, cfg.Build.RetainStaging)
	}
	o.tools = toolchain.New(cfg.Toolchain, o.deps.Runner)
	return o
}

func defaultFetcher(cfg *config.Config, logger *slog.Logger) fetch.Fetcher {
	if cfg.Fetch.Strategy == config.FetchStrategyGit {
		return fetch.NewGitFetcher(logger, 1)
	}
	return fetch.NewHTTPFetcher(
		fetch.WithURLTemplate(cfg.Fetch.ArchiveURLTemplate),
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithHTTPLogger(logger),
	)
}

// State returns the state of the current (or last) job.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Cancel cancels the running job and any request waiting to start.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// DetectMode classifies source: URL-like references are remote, everything
// else is a local directory.
func DetectMode(source string) Mode {
	if fetch.IsRemote(source) {
		return ModeRemote
	}
	return ModeLocal
}

// RunBuild runs one job to a terminal state. It cancels any job already in
// flight and waits for it to settle first. The error is non-nil when the
// job failed or was cancelled.
func (o *Orchestrator) RunBuild(ctx context.Context, source string, mode Mode) (*Result, error) {
	if mode == "" || mode == ModeAuto {
		mode = DetectMode(source)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.seq++
	seq := o.seq
	if o.cancel != nil {
		o.cancel()
	}
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.seq == seq {
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	job := &Job{ID: uuid.NewString(), Source: source, Mode: mode, ctx: ctx, cancel: cancel}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	if ctx.Err() != nil && o.superseded(seq) {
		// a newer request replaced this one before it started
		o.logger.Info("Build superseded before start", logfields.JobID(job.ID), logfields.Source(source))
		err := &StageError{Kind: StageErrorCanceled, Stage: StateIdle, Err: canceledErr(ctx)}
		return &Result{JobID: job.ID, Source: source, Mode: mode, State: StateCancelled, Started: time.Now(), Err: err}, err
	}

	return o.execute(job)
}

func (o *Orchestrator) superseded(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq != seq
}

// Job is the unit of work owned by the orchestrator for one RunBuild call.
type Job struct {
	ID         string
	Source     string
	Mode       Mode
	StagingDir string
	Units      []Unit

	ctx    context.Context
	cancel context.CancelFunc
}

// Unit is one source file compiled into one object file.
type Unit struct {
	Source string // path relative to the build root
	Object string // absolute object path
}

func (o *Orchestrator) setState(job *Job, to State) {
	from := State(o.state.Swap(int32(to)))
	o.logger.Info("State changed",
		logfields.JobID(job.ID),
		slog.String("from", from.String()),
		logfields.State(to.String()))
	t := Transition{JobID: job.ID, Source: job.Source, From: from, To: to, At: time.Now()}
	for _, obs := range o.observers {
		obs.OnStateChange(t)
	}
	if !to.Terminal() {
		o.report(to, 0)
	}
}

// report forwards progress, dropping values that would go backwards within
// the same state.
func (o *Orchestrator) report(state State, percent int) {
	percent = min(max(percent, 0), 100)
	o.progressMu.Lock()
	defer o.progressMu.Unlock()
	if state == o.lastProgress.State && percent < o.lastProgress.Percent {
		return
	}
	if state == o.lastProgress.State && percent == o.lastProgress.Percent && percent != 0 {
		return
	}
	o.lastProgress = Progress{State: state, Percent: percent}
	if o.progressFn != nil {
		o.progressFn(o.lastProgress)
	}
}

func canceledErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return ErrCancelled
}
