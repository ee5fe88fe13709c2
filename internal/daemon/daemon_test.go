package daemon

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/metrics"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
	"git.home.luguber.info/inful/x360make/internal/workspace"
)

type fakeBuilder struct {
	mu       sync.Mutex
	sources  []string
	cancels  int
	builtCh  chan string
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{builtCh: make(chan string, 16)}
}

func (f *fakeBuilder) RunBuild(_ context.Context, source string, mode pipeline.Mode) (*pipeline.Result, error) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()
	f.builtCh <- source
	return &pipeline.Result{JobID: "job", Source: source, Mode: mode, State: pipeline.StateSucceeded}, nil
}

func (f *fakeBuilder) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestScheduler_ScheduleEvery(t *testing.T) {
	t.Run("returns job id for valid interval", func(t *testing.T) {
		s, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop(context.Background()) })

		id, err := s.ScheduleEvery("test", 10*time.Second, false, func() {})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		require.Equal(t, []string{"test"}, s.Jobs())
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		s, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop(context.Background()) })

		_, err = s.ScheduleEvery("test", 0, false, func() {})
		require.Error(t, err)
	})

	t.Run("runs immediately when asked", func(t *testing.T) {
		s, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop(context.Background()) })

		ran := make(chan struct{}, 1)
		_, err = s.ScheduleEvery("now", time.Hour, true, func() {
			select {
			case ran <- struct{}{}:
			default:
			}
		})
		require.NoError(t, err)
		s.Start()
		waitFor(t, ran, "immediate run")
	})
}

func TestDaemonBuildsImmediatelyAndStops(t *testing.T) {
	fb := newFakeBuilder()
	ws := workspace.NewManager(t.TempDir(), true)
	d := New(config.DaemonConfig{Interval: time.Hour, StagingRetention: time.Hour}, fb, ws, "https://example.com/org/repo", pipeline.ModeRemote, nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Equal(t, "https://example.com/org/repo", waitFor(t, fb.builtCh, "scheduled build"))
	cancel()
	require.NoError(t, waitFor(t, done, "daemon shutdown"))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Equal(t, 1, fb.cancels)
}

func TestDaemonPrunesStaging(t *testing.T) {
	base := t.TempDir()
	ws := workspace.NewManager(base, true)
	old := filepath.Join(base, "x360make-20200101-000000-deadbeef")
	require.NoError(t, os.Mkdir(old, 0o750))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	d := New(config.DaemonConfig{Interval: time.Hour, StagingRetention: 24 * time.Hour}, newFakeBuilder(), ws, "src", pipeline.ModeLocal, nil)
	d.prune()
	_, err := os.Stat(old)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSourceWatcherDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	require.NoError(t, os.Mkdir(out, 0o750))

	triggered := make(chan struct{}, 8)
	sw, err := NewSourceWatcher(root, 50*time.Millisecond, func() { triggered <- struct{}{} }, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = sw.Run(ctx) }()

	for i := range 5 {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.cpp"), []byte{byte('a' + i)}, 0o600))
	}
	waitFor(t, triggered, "debounced trigger")

	select {
	case <-triggered:
		t.Fatal("burst of writes triggered more than one rebuild")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(out, "main.xex"), []byte("x"), 0o600))
	select {
	case <-triggered:
		t.Fatal("write to ignored directory triggered a rebuild")
	case <-time.After(300 * time.Millisecond):
	}

	sub := filepath.Join(root, "core")
	require.NoError(t, os.Mkdir(sub, 0o750))
	waitFor(t, triggered, "trigger for new directory")
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.cpp"), []byte("b"), 0o600))
	waitFor(t, triggered, "trigger for file in new directory")
}

func TestWatchRunsInitialBuild(t *testing.T) {
	fb := newFakeBuilder()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, fb, dir, 20*time.Millisecond) }()

	require.Equal(t, dir, waitFor(t, fb.builtCh, "initial build"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.cpp"), []byte("x"), 0o600))
	require.Equal(t, dir, waitFor(t, fb.builtCh, "rebuild after change"))

	cancel()
	require.NoError(t, waitFor(t, done, "watch shutdown"))
}

func TestMetricsServer(t *testing.T) {
	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	rec.IncBuildOutcome("succeeded")

	ms, err := NewMetricsServer("127.0.0.1:0", reg)
	require.NoError(t, err)
	ms.Start()
	t.Cleanup(func() { _ = ms.Stop(context.Background()) })

	resp, err := http.Get("http://" + ms.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + ms.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), `x360make_build_outcomes_total{outcome="succeeded"} 1`)
}
