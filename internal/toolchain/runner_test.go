//go:build !windows

package toolchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecRunnerCapturesStreams(t *testing.T) {
	var lines []string
	res, err := ExecRunner{}.Run(t.Context(), Command{
		Name:         "script",
		Path:         "sh",
		Args:         []string{"-c", `printf 'one\ntwo\r50%%\r100%%\n'; echo oops >&2`},
		OnStdoutLine: func(l string) { lines = append(lines, l) },
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, []string{"one", "two", "50%", "100%"}, lines)
	require.Equal(t, "oops\n", res.Stderr)
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	res, err := ExecRunner{}.Run(t.Context(), Command{
		Name: ToolCompiler,
		Path: "sh",
		Args: []string{"-c", "echo 'a.cpp:3: error: expected ;' >&2; exit 3"},
	})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 3, te.ExitCode)
	require.Equal(t, 3, res.ExitCode)
	require.Contains(t, te.Stderr, "expected ;")
	require.Equal(t, "compiler exited with status 3: a.cpp:3: error: expected ;", te.Error())
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(t.Context(), Command{Name: ToolLinker, Path: "/nonexistent/x360make_ld"})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, -1, te.ExitCode)
}

func TestExecRunnerKilledOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ExecRunner{WaitDelay: time.Second}.Run(ctx, Command{Name: "sleep", Path: "sleep", Args: []string{"10"}})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Less(t, time.Since(start), 5*time.Second)
}
