package save

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/webshell/backend"
)

func newTestDirectory(t *testing.T, opts ...Option) (*Directory, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := backend.NewFilesystem(root)
	require.NoError(t, err)
	return NewDirectory(backend.NewInstrumentedBackend(fs, "filesystem"), opts...), fs.Root()
}

func TestSaveWritesFile(t *testing.T) {
	d, root := newTestDirectory(t)

	path, err := d.Save(context.Background(), "Notes_2026-10-14_16-30-05", []byte("%PDF-"), "pdf", "application/pdf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "Notes_2026-10-14_16-30-05.pdf"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "%PDF-", string(got))
}

func TestSaveNeverOverwrites(t *testing.T) {
	d, root := newTestDirectory(t)
	ctx := context.Background()

	for i, want := range []string{"report.csv", "report_1.csv", "report_2.csv"} {
		path, err := d.Save(ctx, "report", []byte{byte('a' + i)}, "csv", "text/csv")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(root, want), path)
	}

	first, err := os.ReadFile(filepath.Join(root, "report.csv"))
	require.NoError(t, err)
	require.Equal(t, "a", string(first))
}

func TestSaveRunsOutOfNames(t *testing.T) {
	d, _ := newTestDirectory(t, WithMaxSuffix(1))
	ctx := context.Background()

	_, err := d.Save(ctx, "x", nil, "bin", "")
	require.NoError(t, err)
	_, err = d.Save(ctx, "x", nil, "bin", "")
	require.NoError(t, err)
	_, err = d.Save(ctx, "x", nil, "bin", "")
	require.ErrorIs(t, err, ErrNoFreeName)
}

func TestSaveKeepsNamesInsideDirectory(t *testing.T) {
	d, root := newTestDirectory(t)

	path, err := d.Save(context.Background(), "../../etc/passwd", []byte("x"), "txt", "text/plain")
	require.NoError(t, err)
	require.Equal(t, root, filepath.Dir(path))
	require.Equal(t, "_.._etc_passwd.txt", filepath.Base(path))
}

func TestCandidate(t *testing.T) {
	require.Equal(t, "a.pdf", candidate("a", "pdf", 0))
	require.Equal(t, "a_3.pdf", candidate("a", "pdf", 3))
	require.Equal(t, "a_1", candidate("a", "", 1))
}

func TestCleanName(t *testing.T) {
	require.Equal(t, "download", cleanName("  "))
	require.Equal(t, "download", cleanName(".."))
	require.Equal(t, "a_b", cleanName("a/b"))
	require.Equal(t, "hidden", cleanName(".hidden"))
}

func TestSavePermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	d, root := newTestDirectory(t)
	require.NoError(t, os.Chmod(root, 0555))
	t.Cleanup(func() { _ = os.Chmod(root, 0755) })

	_, err := d.Save(context.Background(), "x", []byte("x"), "pdf", "application/pdf")
	require.ErrorIs(t, err, os.ErrPermission)
	require.Contains(t, err.Error(), "permission denied")
}

func TestFilesOpenRemove(t *testing.T) {
	d, root := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Save(ctx, "b", []byte("bee"), "txt", "text/plain")
	require.NoError(t, err)
	_, err = d.Save(ctx, "a", []byte("%PDF-"), "pdf", "application/pdf")
	require.NoError(t, err)
	// The browser's own download directory is not a saved download.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".browser"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".browser", "x.crdownload"), nil, 0644))

	files, err := d.Files(ctx)
	require.NoError(t, err)
	require.Equal(t, []File{
		{Name: "a.pdf", Path: filepath.Join(root, "a.pdf")},
		{Name: "b.txt", Path: filepath.Join(root, "b.txt")},
	}, files)

	rc, err := d.Open(ctx, "b.txt")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "bee", string(got))

	require.NoError(t, d.Remove(ctx, "b.txt"))
	require.ErrorIs(t, d.Remove(ctx, "b.txt"), backend.ErrNotFound)

	_, err = d.Open(ctx, "b.txt")
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestFilesRejectsNamesOutsideDirectory(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	for _, name := range []string{"", "../secret", "sub/dir.txt", ".browser"} {
		_, err := d.Open(ctx, name)
		require.ErrorIs(t, err, backend.ErrNotFound, name)
		require.ErrorIs(t, d.Remove(ctx, name), backend.ErrNotFound, name)
	}
}
