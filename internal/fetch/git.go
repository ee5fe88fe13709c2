package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/x360make/internal/logfields"
)

// GitFetcher performs a shallow single-branch clone instead of downloading
// an archive.
type GitFetcher struct {
	depth  int
	logger *slog.Logger
}

// NewGitFetcher returns a fetcher cloning depth commits; depth <= 0 clones
// the full branch history.
func NewGitFetcher(logger *slog.Logger, depth int) *GitFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitFetcher{depth: max(depth, 0), logger: logger}
}

// Fetch clones req.Branch into req.Dest/checkout.
func (g *GitFetcher) Fetch(ctx context.Context, req Request) (Artifact, error) {
	dir := filepath.Join(req.Dest, "checkout")
	g.logger.Info("cloning repository", logfields.URL(req.Repository), logfields.Branch(req.Branch), logfields.Path(dir))

	err := withRetry(ctx, g.logger, req.Policy, req.Repository, func(ctx context.Context) error {
		if err := os.RemoveAll(dir); err != nil {
			return permanent{fmt.Errorf("clear checkout directory: %w", err)}
		}
		opts := &git.CloneOptions{
			URL:          req.Repository,
			SingleBranch: true,
			Depth:        g.depth,
			Tags:         git.NoTags,
		}
		if req.Branch != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(req.Branch)
		}
		repo, err := git.PlainCloneContext(ctx, dir, false, opts)
		if err != nil {
			return classifyCloneError(err)
		}
		if ref, herr := repo.Head(); herr == nil {
			g.logger.Info("repository cloned", logfields.URL(req.Repository), slog.String("commit", ref.Hash().String()[:8]))
		}
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: dir, Archive: false}, nil
}

// classifyCloneError separates failures that a retry cannot fix.
func classifyCloneError(err error) error {
	switch {
	case stderrors.Is(err, transport.ErrRepositoryNotFound),
		stderrors.Is(err, plumbing.ErrReferenceNotFound):
		return permanent{fmt.Errorf("%w: %w", ErrNotFound, err)}
	case stderrors.Is(err, transport.ErrAuthenticationRequired),
		stderrors.Is(err, transport.ErrAuthorizationFailed),
		stderrors.Is(err, transport.ErrInvalidAuthMethod):
		return permanent{err}
	}
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "couldn't find remote ref"),
		strings.Contains(l, "reference not found"),
		strings.Contains(l, "repository does not exist"),
		strings.Contains(l, "repository not found"):
		return permanent{fmt.Errorf("%w: %w", ErrNotFound, err)}
	case strings.Contains(l, "unsupported protocol"),
		strings.Contains(l, "invalid url"):
		return permanent{err}
	}
	return err
}
