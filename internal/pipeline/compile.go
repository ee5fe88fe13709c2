package pipeline

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/toolchain"
)

func (o *Orchestrator) stageCompile(ctx context.Context, bs *buildState) error {
	if o.cfg.Build.UseMakefile && isFile(filepath.Join(bs.root, "Makefile")) {
		bs.makefile = true
		return o.runMake(ctx, bs)
	}

	units, err := discoverUnits(bs.root, bs.outDir, o.cfg.Build.SourceExtensions, o.cfg.Build.Recursive)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "cannot scan build root").WithContext("path", bs.root).Build()
	}
	if len(units) == 0 {
		return errors.WrapError(ErrNoUnits, errors.CategoryValidation, "nothing to compile").
			WithContext("path", bs.root).
			WithContext("extensions", strings.Join(o.cfg.Build.SourceExtensions, ",")).
			Build()
	}
	objDir := filepath.Join(bs.outDir, "obj")
	for i := range units {
		units[i].Object = objectPath(objDir, units[i].Source)
	}
	bs.job.Units = units

	if err := o.compileUnits(ctx, bs, units); err != nil {
		return err
	}
	bs.objects = make([]string, len(units))
	for i, u := range units {
		bs.objects[i] = u.Object
	}
	return nil
}

// compileUnits runs the compiler over units with a bounded pool. The first
// failure stops further dispatch; units already running finish.
func (o *Orchestrator) compileUnits(ctx context.Context, bs *buildState, units []Unit) error {
	workers := o.cfg.Build.CompileWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	o.logger.Info("Compiling units",
		logfields.JobID(bs.job.ID),
		logfields.Entries(len(units)),
		logfields.Workers(workers))

	var (
		g       errgroup.Group
		failed  atomic.Bool
		done    atomic.Int64
		total   = int64(len(units))
		include = o.cfg.Build.IncludeDirs
	)
	g.SetLimit(workers)

	for _, u := range units {
		if failed.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// the slot may have been acquired after a failure or cancel
			if failed.Load() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(u.Object), 0o750); err != nil {
				failed.Store(true)
				return errors.WrapError(err, errors.CategoryFileSystem, "cannot create object directory").
					WithContext("path", u.Object).Build()
			}
			t0 := time.Now()
			res, err := o.tools.Compile(ctx, bs.root, u.Source, u.Object, include)
			o.recorder.ObserveCompileUnit(time.Since(t0), err == nil)
			o.logToolOutput(bs.job, toolchain.ToolCompiler, u.Source, res.Stdout, res.Stderr)
			if err != nil {
				failed.Store(true)
				return errors.WrapError(err, errors.CategoryToolchain, "compile failed").
					WithContext("unit", u.Source).Build()
			}
			n := done.Add(1)
			o.report(StateCompiling, int(n*100/total))
			return nil
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

func (o *Orchestrator) runMake(ctx context.Context, bs *buildState) error {
	o.logger.Info("Makefile found, running make", logfields.JobID(bs.job.ID), logfields.Path(bs.root))
	res, err := o.tools.Make(ctx, bs.root)
	o.logToolOutput(bs.job, toolchain.ToolMake, "", res.Stdout, res.Stderr)
	if err != nil {
		return errors.WrapError(err, errors.CategoryToolchain, "make failed").Build()
	}
	o.report(StateCompiling, 100)
	return nil
}

// discoverUnits lists source files under root in lexical order. The output
// directory and hidden directories are never descended into.
func discoverUnits(root, outDir string, exts []string, recursive bool) ([]Unit, error) {
	match := func(name string) bool {
		return slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
	}
	var units []Unit
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || path == outDir || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !match(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		units = append(units, Unit{Source: rel})
		return nil
	})
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return units, err
}

// objectPath maps src/foo.cpp to <objDir>/src/foo.o.
func objectPath(objDir, rel string) string {
	return filepath.Join(objDir, strings.TrimSuffix(rel, filepath.Ext(rel))+".o")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// logToolOutput logs captured process output line by line, unmodified.
func (o *Orchestrator) logToolOutput(job *Job, tool, unit, stdout, stderr string) {
	attrs := []any{logfields.JobID(job.ID), logfields.Tool(tool)}
	if unit != "" {
		attrs = append(attrs, logfields.Unit(unit))
	}
	for line := range strings.Lines(stdout) {
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			o.logger.Info(line, attrs...)
		}
	}
	for line := range strings.Lines(stderr) {
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			o.logger.Warn(line, attrs...)
		}
	}
}
