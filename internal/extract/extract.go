// Package extract expands zip archives with a bounded pool of workers while
// keeping every written file inside the destination directory.
package extract

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zip"

	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/logfields"
)

const (
	DefaultWorkers      = 4
	DefaultMaxEntrySize = int64(1 << 30)
	DefaultBufferSize   = 32 * 1024
)

var (
	ErrNotAFile          = stderrors.New("archive is not a regular file")
	ErrEntryTooLarge     = stderrors.New("archive entry exceeds size limit")
	ErrUnreadableArchive = stderrors.New("archive metadata cannot be read")

	errEscapesRoot = stderrors.New("path leaves destination")
)

// Entry is the metadata of one archive member, read before extraction starts.
type Entry struct {
	Index     int
	Name      string
	IsDir     bool
	IsSymlink bool
	Size      uint64
}

// Result summarises an extraction. Success means at least one file was
// written, no symlink was present and the run was not cancelled.
type Result struct {
	Success    bool
	SawSymlink bool
	Extracted  int
	Skipped    int
	Failed     int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxEntrySize sets the per-entry declared size ceiling. Entries must be
// strictly smaller.
func WithMaxEntrySize(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxEntrySize = n
		}
	}
}

// WithBufferSize sets the per-worker copy buffer size.
func WithBufferSize(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.bufferSize = n
		}
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Extractor is safe for concurrent use; each Extract call has its own state.
type Extractor struct {
	maxEntrySize int64
	bufferSize   int
	logger       *slog.Logger
}

// New returns an Extractor with default limits.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		maxEntrySize: DefaultMaxEntrySize,
		bufferSize:   DefaultBufferSize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run holds the state shared by the workers of one Extract call.
type run struct {
	ext     *Extractor
	zr      *zip.ReadCloser
	entries []Entry
	root    string

	cursor  atomic.Int64
	dirMu   sync.Mutex
	symlink atomic.Bool

	extracted atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// Extract expands archivePath into destDir using up to workers goroutines
// (DefaultWorkers when workers <= 0). Per-entry failures are counted, not
// returned; only pre-flight validation and cancellation produce an error.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, workers int) (Result, error) {
	info, err := os.Stat(archivePath)
	if err != nil || !info.Mode().IsRegular() {
		return Result{}, errors.WrapError(ErrNotAFile, errors.CategoryValidation, "archive not found").
			WithContext("path", archivePath).
			Build()
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, errors.WrapError(err, errors.CategoryFileSystem, "create destination").
			WithContext("path", destDir).
			Build()
	}
	root, err := canonical(destDir)
	if err != nil {
		return Result{}, errors.WrapError(err, errors.CategoryFileSystem, "resolve destination").
			WithContext("path", destDir).
			Build()
	}

	zr, err := zip.OpenReader(archivePath)
	if zr == nil {
		return Result{}, errors.WrapError(fmt.Errorf("%w: %w", ErrUnreadableArchive, err), errors.CategoryArchive, "open archive").
			WithContext("path", archivePath).
			Build()
	}
	// A non-nil reader with an error flags insecure entry names; those are
	// filtered per entry below.
	defer zr.Close()

	entries, err := e.enumerate(zr)
	if err != nil {
		return Result{}, err
	}

	files := 0
	for _, ent := range entries {
		if !ent.IsDir {
			files++
		}
	}
	if files == 0 {
		e.logger.Warn("archive contains no files", logfields.Path(archivePath), logfields.Entries(len(entries)))
		return Result{}, nil
	}

	if workers <= 0 {
		workers = DefaultWorkers
	}
	workers = min(workers, files)

	r := &run{ext: e, zr: zr, entries: entries, root: root}
	e.logger.Debug("extracting archive",
		logfields.Path(archivePath),
		logfields.Entries(len(entries)),
		logfields.Workers(workers))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	wg.Wait()

	res := Result{
		SawSymlink: r.symlink.Load(),
		Extracted:  int(r.extracted.Load()),
		Skipped:    int(r.skipped.Load()),
		Failed:     int(r.failed.Load()),
	}
	if err := ctx.Err(); err != nil {
		return res, errors.WrapError(err, errors.CategoryCanceled, "extraction cancelled").Build()
	}
	res.Success = res.Extracted > 0 && !res.SawSymlink
	return res, nil
}

// enumerate reads every entry's metadata and enforces the size ceiling
// before anything is written.
func (e *Extractor) enumerate(zr *zip.ReadCloser) ([]Entry, error) {
	entries := make([]Entry, len(zr.File))
	for i, f := range zr.File {
		mode := f.Mode()
		ent := Entry{
			Index:     i,
			Name:      f.Name,
			IsDir:     mode.IsDir() || strings.HasSuffix(f.Name, "/"),
			IsSymlink: mode&fs.ModeSymlink != 0,
			Size:      f.UncompressedSize64,
		}
		if ent.Size >= uint64(e.maxEntrySize) {
			return nil, errors.WrapError(ErrEntryTooLarge, errors.CategoryValidation, "archive entry too large").
				WithContext("entry", f.Name).
				WithContext("size", ent.Size).
				WithContext("limit", e.maxEntrySize).
				Build()
		}
		entries[i] = ent
	}
	return entries, nil
}

func (r *run) work(ctx context.Context) {
	buf := make([]byte, r.ext.bufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		i := int(r.cursor.Add(1) - 1)
		if i >= len(r.entries) {
			return
		}
		r.process(r.entries[i], buf)
	}
}

func (r *run) process(ent Entry, buf []byte) {
	log := r.ext.logger
	switch {
	case ent.IsDir:
		return
	case ent.IsSymlink:
		r.symlink.Store(true)
		r.skipped.Add(1)
		log.Warn("skipping symlink entry", logfields.Path(ent.Name))
		return
	}

	name, ok := localName(ent.Name)
	if !ok {
		r.skipped.Add(1)
		log.Warn("skipping unsafe entry name", logfields.Path(ent.Name))
		return
	}

	parent, err := r.prepareParent(filepath.Dir(name))
	switch {
	case stderrors.Is(err, errEscapesRoot):
		r.skipped.Add(1)
		log.Warn("skipping entry outside destination", logfields.Path(ent.Name))
		return
	case err != nil:
		r.failed.Add(1)
		log.Warn("cannot create entry directory", logfields.Path(ent.Name), logfields.Error(err))
		return
	}

	dst := filepath.Join(parent, filepath.Base(name))
	if err := r.writeEntry(ent, dst, buf); err != nil {
		r.failed.Add(1)
		log.Warn("failed to extract entry", logfields.Path(ent.Name), logfields.Error(err))
		return
	}
	r.extracted.Add(1)
}

// prepareParent creates rel below the root one component at a time and
// returns the resulting directory. An existing component that is not a real
// directory, such as a symlink, stops the walk before anything is created
// beyond it. The lock keeps concurrent workers from racing on the same
// components.
func (r *run) prepareParent(rel string) (string, error) {
	r.dirMu.Lock()
	defer r.dirMu.Unlock()

	dir := r.root
	if rel == "." {
		return dir, nil
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)
		fi, err := os.Lstat(dir)
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
			if err := os.Mkdir(dir, 0o755); err != nil {
				return "", err
			}
		case err != nil:
			return "", err
		case fi.Mode()&fs.ModeSymlink != 0:
			return "", fmt.Errorf("%w: %s", errEscapesRoot, dir)
		case !fi.IsDir():
			return "", fmt.Errorf("%s is not a directory", dir)
		}
	}
	if !within(r.root, dir) {
		return "", fmt.Errorf("%w: %s", errEscapesRoot, dir)
	}
	return dir, nil
}

func (r *run) writeEntry(ent Entry, dst string, buf []byte) error {
	if fi, err := os.Lstat(dst); err == nil && !fi.Mode().IsRegular() {
		return fmt.Errorf("refusing to overwrite non-regular file %s", dst)
	}

	f := r.zr.File[ent.Index]
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if err := copyChunked(out, src, buf); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// copyChunked streams src to dst through buf only.
func copyChunked(dst io.Writer, src io.Reader, buf []byte) error {
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// localName converts an archive name to a host-relative path, rejecting
// anything absolute or containing "..".
func localName(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", false
	}
	p := filepath.FromSlash(name)
	if !filepath.IsLocal(p) {
		return "", false
	}
	return filepath.Clean(p), true
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func within(root, p string) bool {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		root = strings.ToLower(root)
		p = strings.ToLower(p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}
