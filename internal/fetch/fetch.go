// Package fetch acquires remote sources, either as a zip archive over HTTP or
// as a shallow git checkout.
package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/retry"
)

// ErrNotFound reports a missing repository, branch or archive. It is never retried.
var ErrNotFound = stderrors.New("source not found")

// Request describes one fetch of one branch.
type Request struct {
	Repository string
	Branch     string
	Dest       string // directory the artifact is written under
	Policy     retry.Policy
}

// Artifact is what a Fetcher produced. Archive is false for checkouts that
// need no extraction.
type Artifact struct {
	Path    string
	Archive bool
}

// Fetcher downloads a source. Implementations apply req.Policy themselves.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Artifact, error)
}

// IsRemote reports whether ref looks like a URL rather than a local path.
func IsRemote(ref string) bool {
	if strings.HasPrefix(ref, "git@") {
		return true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "git", "ssh":
		return u.Host != ""
	}
	return false
}

// IsDirectArchive reports whether ref already points at a zip file, in which
// case no branch name is substituted.
func IsDirectArchive(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(ref), ".zip")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".zip")
}

// ArchiveURL expands {repo} and {branch} in template. A trailing slash or
// ".git" suffix on repo is dropped first.
func ArchiveURL(template, repo, branch string) string {
	if IsDirectArchive(repo) {
		return repo
	}
	repo = strings.TrimSuffix(strings.TrimRight(repo, "/"), ".git")
	r := strings.NewReplacer("{repo}", repo, "{branch}", url.PathEscape(branch))
	return r.Replace(template)
}

// permanent marks an error that retrying cannot fix.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

func isPermanent(err error) bool {
	var p permanent
	return stderrors.As(err, &p)
}

// withRetry runs op until it succeeds, returns a permanent error, the
// policy is exhausted or ctx ends.
func withRetry(ctx context.Context, logger *slog.Logger, policy retry.Policy, target string, op func(context.Context) error) error {
	attempts := policy.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying fetch",
				logfields.URL(target),
				logfields.Attempt(attempt),
				slog.Duration("backoff", policy.Delay(attempt-1)),
				logfields.Error(lastErr))
			if err := policy.Wait(ctx, attempt-1); err != nil {
				return canceled(err)
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		if isPermanent(lastErr) {
			b := errors.WrapError(lastErr, errors.CategoryNetwork, "fetch failed").WithContext("url", target)
			if stderrors.Is(lastErr, ErrNotFound) {
				b = errors.WrapError(lastErr, errors.CategoryNotFound, "source not found").WithContext("url", target)
			}
			return b.Build()
		}
	}
	return errors.WrapError(fmt.Errorf("after %d attempts: %w", attempts, lastErr), errors.CategoryNetwork, "fetch failed").
		WithContext("url", target).
		Retryable().
		Build()
}

func canceled(err error) error {
	return errors.WrapError(err, errors.CategoryCanceled, "fetch cancelled").Build()
}
