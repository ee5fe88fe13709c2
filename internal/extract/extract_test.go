package extract

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name string
	body string
	mode fs.FileMode
}

func writeZip(t *testing.T, entries []zipEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			hdr.SetMode(e.mode)
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func listFiles(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestExtractHundredFilesWithFourWorkers(t *testing.T) {
	var entries []zipEntry
	want := map[string]string{}
	for i := range 100 {
		name := fmt.Sprintf("project-main/src/dir%d/file%03d.cpp", i%7, i)
		body := fmt.Sprintf("// unit %d\n", i)
		entries = append(entries, zipEntry{name: name, body: body})
		want[name] = body
	}
	archive := writeZip(t, entries)
	dest := filepath.Join(t.TempDir(), "staging")

	res, err := New().Extract(t.Context(), archive, dest, 4)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 100, res.Extracted)
	require.Equal(t, want, listFiles(t, dest))
}

func TestTraversalEntriesAreNeverWritten(t *testing.T) {
	outer := t.TempDir()
	dest := filepath.Join(outer, "a", "b", "staging")
	archive := writeZip(t, []zipEntry{
		{name: "../../escape.txt", body: "x"},
		{name: `..\..\escape-win.txt`, body: "x"},
		{name: "/tmp/absolute-escape.txt", body: "x"},
		{name: "ok/../../escape2.txt", body: "x"},
		{name: "safe/inside.txt", body: "ok"},
	})

	res, err := New().Extract(t.Context(), archive, dest, 2)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Extracted)
	require.Equal(t, 4, res.Skipped)
	require.Equal(t, map[string]string{"safe/inside.txt": "ok"}, listFiles(t, dest))

	for _, p := range []string{
		filepath.Join(outer, "a", "escape.txt"),
		filepath.Join(outer, "a", "escape-win.txt"),
		filepath.Join(outer, "a", "b", "escape2.txt"),
	} {
		_, err := os.Stat(p)
		require.ErrorIs(t, err, fs.ErrNotExist, p)
	}
}

func TestSymlinkedDirectoryInsideDestinationIsNotFollowed(t *testing.T) {
	outside := t.TempDir()
	dest := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dest, "link")))

	archive := writeZip(t, []zipEntry{
		{name: "link/pwned.txt", body: "x"},
		{name: "link/deep/nested/pwned.txt", body: "x"},
		{name: "real.txt", body: "y"},
	})
	res, err := New().Extract(t.Context(), archive, dest, 2)
	require.NoError(t, err)
	require.Equal(t, 1, res.Extracted)
	require.Equal(t, 2, res.Skipped)

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFileInPlaceOfDirectoryFailsEntry(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "src"), []byte("file"), 0o600))

	archive := writeZip(t, []zipEntry{
		{name: "src/a.cpp", body: "int a;"},
		{name: "b.cpp", body: "int b;"},
	})
	res, err := New().Extract(t.Context(), archive, dest, 2)
	require.NoError(t, err)
	require.Equal(t, 1, res.Extracted)
	require.Equal(t, 1, res.Failed)
}

func TestSymlinkEntryFailsExtraction(t *testing.T) {
	archive := writeZip(t, []zipEntry{
		{name: "a.cpp", body: "int a;"},
		{name: "evil", body: "/etc/passwd", mode: fs.ModeSymlink | 0o777},
		{name: "b.cpp", body: "int b;"},
	})
	dest := t.TempDir()

	res, err := New().Extract(t.Context(), archive, dest, 4)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.SawSymlink)
	require.Equal(t, 2, res.Extracted)

	_, err = os.Lstat(filepath.Join(dest, "evil"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOnlyDirectoriesFails(t *testing.T) {
	archive := writeZip(t, []zipEntry{
		{name: "project/"},
		{name: "project/src/"},
	})
	res, err := New().Extract(t.Context(), archive, t.TempDir(), 4)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Zero(t, res.Extracted)
}

func TestOversizedEntryRejectedBeforeWriting(t *testing.T) {
	archive := writeZip(t, []zipEntry{
		{name: "a.cpp", body: "int a;"},
		{name: "bomb.bin", body: string(make([]byte, 4096))},
	})
	dest := t.TempDir()

	_, err := New(WithMaxEntrySize(1024)).Extract(t.Context(), archive, dest, 4)
	require.ErrorIs(t, err, ErrEntryTooLarge)
	require.Empty(t, listFiles(t, dest))
}

func TestEntryAtSizeLimitRejected(t *testing.T) {
	archive := writeZip(t, []zipEntry{
		{name: "edge.bin", body: string(make([]byte, 1024))},
	})
	dest := t.TempDir()

	_, err := New(WithMaxEntrySize(1024)).Extract(t.Context(), archive, dest, 1)
	require.ErrorIs(t, err, ErrEntryTooLarge)

	res, err := New(WithMaxEntrySize(1025)).Extract(t.Context(), archive, dest, 1)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestMissingArchive(t *testing.T) {
	_, err := New().Extract(t.Context(), filepath.Join(t.TempDir(), "nope.zip"), t.TempDir(), 1)
	require.ErrorIs(t, err, ErrNotAFile)

	_, err = New().Extract(t.Context(), t.TempDir(), t.TempDir(), 1)
	require.ErrorIs(t, err, ErrNotAFile)
}

func TestCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o600))
	_, err := New().Extract(t.Context(), path, t.TempDir(), 1)
	require.ErrorIs(t, err, ErrUnreadableArchive)
}

func TestCancelledBeforeStart(t *testing.T) {
	archive := writeZip(t, []zipEntry{{name: "a.cpp", body: "int a;"}})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	dest := t.TempDir()
	res, err := New().Extract(ctx, archive, dest, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, res.Success)
	require.Empty(t, listFiles(t, dest))
}

func TestSmallBufferStreamsWholeEntry(t *testing.T) {
	body := make([]byte, 10_000)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	archive := writeZip(t, []zipEntry{{name: "big.txt", body: string(body)}})
	dest := t.TempDir()

	res, err := New(WithBufferSize(512)).Extract(t.Context(), archive, dest, 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, string(body), listFiles(t, dest)["big.txt"])
}

func TestLocalName(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"src/main.cpp", filepath.FromSlash("src/main.cpp"), true},
		{`src\core\a.cpp`, filepath.FromSlash("src/core/a.cpp"), true},
		{"./src/a.cpp", filepath.FromSlash("src/a.cpp"), true},
		{"../a.cpp", "", false},
		{"/etc/passwd", "", false},
		{`\windows\system32`, "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := localName(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}
