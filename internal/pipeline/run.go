package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/x360make/internal/fetch"
	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/metrics"
	"git.home.luguber.info/inful/x360make/internal/retry"
	"git.home.luguber.info/inful/x360make/internal/toolchain"
	"git.home.luguber.info/inful/x360make/internal/workspace"
)

// buildState carries what stages hand to each other within one job.
type buildState struct {
	job      *Job
	ws       *workspace.Workspace
	artifact fetch.Artifact
	root     string // directory the toolchain runs in
	outDir   string
	makefile bool
	objects  []string
	image    string
	output   string
}

type stage struct {
	state State
	skip  func(*buildState) bool
	run   func(context.Context, *buildState) error
}

func (o *Orchestrator) stages() []stage {
	local := func(bs *buildState) bool { return bs.job.Mode == ModeLocal }
	return []stage{
		{state: StateFetching, skip: local, run: o.stageFetch},
		{state: StateExtracting, skip: func(bs *buildState) bool { return local(bs) || !bs.artifact.Archive }, run: o.stageExtract},
		{state: StateCompiling, run: o.stageCompile},
		{state: StateLinking, skip: func(bs *buildState) bool { return bs.makefile }, run: o.stageLink},
		{state: StatePacking, skip: func(bs *buildState) bool { return bs.makefile }, run: o.stagePack},
	}
}

func (o *Orchestrator) execute(job *Job) (*Result, error) {
	started := time.Now()
	res := &Result{JobID: job.ID, Source: job.Source, Mode: job.Mode, Started: started}

	o.state.Store(int32(StateIdle))
	o.progressMu.Lock()
	o.lastProgress = Progress{State: StateIdle}
	o.progressMu.Unlock()

	o.logger.Info("build started",
		logfields.JobID(job.ID),
		logfields.Source(job.Source),
		logfields.Mode(string(job.Mode)))

	bs := &buildState{job: job}
	err := o.prepare(bs)
	if err == nil {
		err = o.runStages(job.ctx, bs)
	}
	if bs.ws != nil {
		if cerr := bs.ws.Cleanup(); cerr != nil {
			o.logger.Warn("Failed to clean up staging directory", logfields.JobID(job.ID), logfields.Error(cerr))
		}
	}

	final := StateSucceeded
	var se *StageError
	switch {
	case err == nil:
		res.Artifact = bs.output
		res.Objects = bs.objects
	case stderrors.As(err, &se) && se.Kind == StageErrorCanceled:
		final = StateCancelled
	default:
		final = StateFailed
	}
	res.State = final
	res.Err = err
	res.Duration = time.Since(started)

	o.setState(job, final)
	o.recorder.ObserveBuildDuration(res.Duration)
	o.recorder.IncBuildOutcome(final.String())

	attrs := []any{
		logfields.JobID(job.ID),
		logfields.State(final.String()),
		logfields.DurationMS(float64(res.Duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, logfields.Error(err))
	}
	level := slog.LevelInfo
	if final == StateFailed {
		level = slog.LevelError
	}
	o.logger.Log(context.Background(), level, "build finished", attrs...)

	for _, obs := range o.observers {
		obs.OnBuildComplete(res)
	}
	return res, err
}

// prepare acquires the staging directory and output directory, and resolves
// the build root of local sources.
func (o *Orchestrator) prepare(bs *buildState) error {
	fail := func(err error) error { return &StageError{Kind: StageErrorFatal, Stage: StateIdle, Err: err} }

	ws, err := o.deps.Workspace.Create(bs.job.ID)
	if err != nil {
		return fail(errors.WrapError(err, errors.CategoryFileSystem, "cannot create staging directory").Build())
	}
	bs.ws = ws
	bs.job.StagingDir = ws.Path()

	out, err := filepath.Abs(o.cfg.Build.OutputDir)
	if err == nil {
		err = os.MkdirAll(out, 0o750)
	}
	if err != nil {
		return fail(errors.WrapError(err, errors.CategoryFileSystem, "cannot create output directory").
			WithContext("path", o.cfg.Build.OutputDir).Build())
	}
	bs.outDir = out

	if bs.job.Mode != ModeLocal {
		return nil
	}
	root, err := filepath.Abs(bs.job.Source)
	if err == nil {
		var info os.FileInfo
		info, err = os.Stat(root)
		if err == nil && !info.IsDir() {
			err = fmt.Errorf("%s is not a directory", root)
		}
	}
	if err != nil {
		return fail(errors.WrapError(err, errors.CategoryValidation, "invalid source directory").
			WithContext("source", bs.job.Source).Build())
	}
	bs.root = root
	return nil
}

// runStages executes stages in order, recording timing and stopping on the
// first error.
func (o *Orchestrator) runStages(ctx context.Context, bs *buildState) error {
	for _, st := range o.stages() {
		if st.skip != nil && st.skip(bs) {
			continue
		}
		if ctx.Err() != nil {
			return o.canceledStage(ctx, st.state)
		}
		o.setState(bs.job, st.state)
		t0 := time.Now()
		err := st.run(ctx, bs)
		o.recorder.ObserveStageDuration(st.state.String(), time.Since(t0))
		if err != nil {
			if ctx.Err() != nil {
				return o.canceledStage(ctx, st.state)
			}
			o.recorder.IncStageResult(st.state.String(), metrics.ResultFatal)
			return &StageError{Kind: StageErrorFatal, Stage: st.state, Err: err}
		}
		o.recorder.IncStageResult(st.state.String(), metrics.ResultSuccess)
	}
	return nil
}

func (o *Orchestrator) canceledStage(ctx context.Context, s State) error {
	o.recorder.IncStageResult(s.String(), metrics.ResultCanceled)
	return &StageError{
		Kind:  StageErrorCanceled,
		Stage: s,
		Err:   errors.WrapError(canceledErr(ctx), errors.CategoryCanceled, "build cancelled").Build(),
	}
}

func (o *Orchestrator) stageFetch(ctx context.Context, bs *buildState) error {
	dest, err := bs.ws.Subdir("download")
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "cannot create download directory").Build()
	}

	branches := o.cfg.Fetch.Branches
	if len(branches) == 0 {
		branches = []string{"main"}
	}
	if fetch.IsDirectArchive(bs.job.Source) {
		branches = branches[:1]
	}
	policy := retry.FromConfig(o.cfg.Fetch)

	var errs []error
	for i, branch := range branches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Info("Fetching source",
			logfields.JobID(bs.job.ID),
			logfields.URL(bs.job.Source),
			logfields.Branch(branch),
			logfields.Attempt(i+1))
		art, err := o.deps.Fetcher.Fetch(ctx, fetch.Request{
			Repository: bs.job.Source,
			Branch:     branch,
			Dest:       dest,
			Policy:     policy,
		})
		o.recorder.IncFetchAttempt(branch, err == nil)
		if err == nil {
			o.logger.Info("Fetched source", logfields.JobID(bs.job.ID), logfields.Branch(branch), logfields.Path(art.Path))
			bs.artifact = art
			if !art.Archive {
				bs.root = art.Path
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		o.logger.Warn("Fetch failed", logfields.JobID(bs.job.ID), logfields.Branch(branch), logfields.Error(err))
		errs = append(errs, fmt.Errorf("branch %s: %w", branch, err))
	}
	return errors.WrapError(stderrors.Join(errs...), errors.GetCategory(errs[len(errs)-1]), "all branches failed").
		WithContext("source", bs.job.Source).
		Build()
}

func (o *Orchestrator) stageExtract(ctx context.Context, bs *buildState) error {
	dest, err := bs.ws.Subdir("src")
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "cannot create extraction directory").Build()
	}
	res, err := o.deps.Extractor.Extract(ctx, bs.artifact.Path, dest, o.cfg.Extract.Workers)
	o.recorder.AddExtractedEntries(res.Extracted)
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.ArchiveError("archive extraction incomplete").
			WithContext("extracted", res.Extracted).
			WithContext("skipped", res.Skipped).
			WithContext("failed", res.Failed).
			WithContext("symlink", res.SawSymlink).
			Build()
	}
	o.report(StateExtracting, 100)
	bs.root = buildRoot(dest)
	o.logger.Info("Extracted source",
		logfields.JobID(bs.job.ID),
		logfields.Entries(res.Extracted),
		logfields.Path(bs.root))
	return nil
}

// buildRoot returns the single top-level directory of an extracted tree, or
// dir itself when the archive had several top-level entries.
func buildRoot(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}

func (o *Orchestrator) stageLink(ctx context.Context, bs *buildState) error {
	bs.image = filepath.Join(bs.outDir, o.cfg.Build.OutputName+".elf")
	res, err := o.tools.Link(ctx, bs.root, bs.objects, bs.image)
	o.logToolOutput(bs.job, toolchain.ToolLinker, "", res.Stdout, res.Stderr)
	if err != nil {
		return errors.WrapError(err, errors.CategoryToolchain, "link failed").WithContext("objects", len(bs.objects)).Build()
	}
	o.report(StateLinking, 100)
	return nil
}

func (o *Orchestrator) stagePack(ctx context.Context, bs *buildState) error {
	out := filepath.Join(bs.outDir, o.cfg.Build.OutputName+".xex")
	res, err := o.tools.Pack(ctx, bs.root, bs.image, out, func(p int) { o.report(StatePacking, p) })
	o.logToolOutput(bs.job, toolchain.ToolPacker, "", res.Stdout, res.Stderr)
	if err != nil {
		return errors.WrapError(err, errors.CategoryToolchain, "pack failed").Build()
	}
	o.report(StatePacking, 100)
	bs.output = out
	o.logger.Info("Packed artifact", logfields.JobID(bs.job.ID), logfields.Path(out))
	return nil
}
