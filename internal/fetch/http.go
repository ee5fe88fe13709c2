package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/x360make/internal/logfields"
)

// DefaultArchiveTemplate is the GitHub-style branch archive location.
const DefaultArchiveTemplate = "{repo}/archive/refs/heads/{branch}.zip"

// StatusError is a non-200 HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Is lets errors.Is(err, ErrNotFound) match 404 and 410 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && (e.Code == http.StatusNotFound || e.Code == http.StatusGone)
}

// transient reports whether the response might succeed on retry.
func (e *StatusError) transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// HTTPFetcher downloads branch archives over HTTP(S).
type HTTPFetcher struct {
	client   *http.Client
	template string
	logger   *slog.Logger
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithTimeout bounds each download attempt.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.client = &http.Client{Timeout: d}
		}
	}
}

// WithURLTemplate overrides DefaultArchiveTemplate.
func WithURLTemplate(t string) HTTPOption {
	return func(f *HTTPFetcher) {
		if t != "" {
			f.template = t
		}
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher returns a fetcher using http.DefaultClient semantics.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   &http.Client{},
		template: DefaultArchiveTemplate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the archive location for repo at branch.
func (f *HTTPFetcher) URL(repo, branch string) string {
	return ArchiveURL(f.template, repo, branch)
}

// Fetch downloads the archive to req.Dest/<branch>.zip.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Artifact, error) {
	src := f.URL(req.Repository, req.Branch)
	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create download directory: %w", err)
	}
	name := req.Branch
	if name == "" || IsDirectArchive(req.Repository) {
		name = "source"
	}
	dst := filepath.Join(req.Dest, filepath.Base(name)+".zip")

	f.logger.Info("downloading archive", logfields.URL(src), logfields.Path(dst))
	err := withRetry(ctx, f.logger, req.Policy, src, func(ctx context.Context) error {
		return f.download(ctx, src, dst)
	})
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: dst, Archive: true}, nil
}

func (f *HTTPFetcher) download(ctx context.Context, src, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return permanent{err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		se := &StatusError{URL: src, Code: resp.StatusCode}
		if se.transient() {
			return se
		}
		return permanent{se}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return permanent{err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read body of %s: %w", src, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return permanent{err}
	}
	f.logger.Debug("archive downloaded", logfields.URL(src), slog.Int64("bytes", n))
	return nil
}
