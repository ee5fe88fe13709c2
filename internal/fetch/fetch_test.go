package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/x360make/internal/config"
	ferrors "git.home.luguber.info/inful/x360make/internal/foundation/errors"
	"git.home.luguber.info/inful/x360make/internal/retry"
)

func fastPolicy(retries int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, retries)
}

func TestArchiveURL(t *testing.T) {
	cases := []struct{ repo, branch, want string }{
		{"https://github.com/acme/game", "main", "https://github.com/acme/game/archive/refs/heads/main.zip"},
		{"https://github.com/acme/game/", "master", "https://github.com/acme/game/archive/refs/heads/master.zip"},
		{"https://github.com/acme/game.git", "main", "https://github.com/acme/game/archive/refs/heads/main.zip"},
		{"https://example.com/drops/build.zip", "main", "https://example.com/drops/build.zip"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ArchiveURL(DefaultArchiveTemplate, tc.repo, tc.branch))
	}
}

func TestIsRemote(t *testing.T) {
	require.True(t, IsRemote("https://github.com/acme/game"))
	require.True(t, IsRemote("git@github.com:acme/game.git"))
	require.False(t, IsRemote("./game"))
	require.False(t, IsRemote(`C:\src\game`))
	require.False(t, IsRemote("/home/user/game"))
}

func TestHTTPFetcherDownloadsArchive(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		_, _ = w.Write([]byte("PK-archive-bytes"))
	}))
	defer srv.Close()

	dest := t.TempDir()
	art, err := NewHTTPFetcher().Fetch(t.Context(), Request{
		Repository: srv.URL + "/acme/game",
		Branch:     "main",
		Dest:       dest,
		Policy:     fastPolicy(0),
	})
	require.NoError(t, err)
	require.Equal(t, "/acme/game/archive/refs/heads/main.zip", <-paths)
	require.True(t, art.Archive)
	require.Equal(t, filepath.Join(dest, "main.zip"), art.Path)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	require.Equal(t, "PK-archive-bytes", string(data))
}

func TestHTTPFetcherRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher().Fetch(t.Context(), Request{
		Repository: srv.URL + "/r", Branch: "main", Dest: t.TempDir(), Policy: fastPolicy(3),
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
}

func TestHTTPFetcherGivesUpAfterPolicy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher().Fetch(t.Context(), Request{
		Repository: srv.URL + "/r", Branch: "main", Dest: t.TempDir(), Policy: fastPolicy(2),
	})
	require.Error(t, err)
	require.EqualValues(t, 3, calls.Load())
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
	require.True(t, ferrors.IsTransient(err))
}

func TestHTTPFetcherNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	dest := t.TempDir()
	_, err := NewHTTPFetcher().Fetch(t.Context(), Request{
		Repository: srv.URL + "/r", Branch: "main", Dest: dest, Policy: fastPolicy(3),
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.EqualValues(t, 1, calls.Load())

	_, statErr := os.Stat(filepath.Join(dest, "main.zip"))
	require.True(t, os.IsNotExist(statErr))
}

func TestHTTPFetcherStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	slow := retry.NewPolicy(config.RetryBackoffFixed, time.Hour, time.Hour, 5)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewHTTPFetcher().Fetch(ctx, Request{Repository: srv.URL + "/r", Branch: "main", Dest: t.TempDir(), Policy: slow})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryCanceled))
}
