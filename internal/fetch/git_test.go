package fetch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.cpp"), []byte("int main() { return 0; }\n"), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.cpp")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{Author: &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()}})
	require.NoError(t, err)
	return dir
}

func TestGitFetcherClonesBranch(t *testing.T) {
	src := initRepo(t)
	dest := t.TempDir()

	art, err := NewGitFetcher(nil, 0).Fetch(t.Context(), Request{Repository: src, Branch: "master", Dest: dest, Policy: fastPolicy(0)})
	require.NoError(t, err)
	require.False(t, art.Archive)
	require.FileExists(t, filepath.Join(art.Path, "main.cpp"))
}

func TestGitFetcherMissingBranchIsNotFound(t *testing.T) {
	src := initRepo(t)

	_, err := NewGitFetcher(nil, 0).Fetch(t.Context(), Request{Repository: src, Branch: "does-not-exist", Dest: t.TempDir(), Policy: fastPolicy(2)})
	require.ErrorIs(t, err, ErrNotFound)
}
