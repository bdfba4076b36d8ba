package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Download")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestFilesystemCreateRead(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	data := []byte("hello, world!")

	require.NoError(t, fs.CreateExclusive(ctx, "notes/data.txt", bytes.NewReader(data)))

	require.Equal(t, data, readAll(t, fs, "notes/data.txt"))
	require.Equal(t, filepath.Join(fs.Root(), "notes", "data.txt"), fs.Path("notes/data.txt"))
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := newTestFilesystem(t)

	_, err := fs.Read(context.Background(), "nonexistent/key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemExistsDelete(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	exists, err := fs.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fs.CreateExclusive(ctx, "a.pdf", bytes.NewReader([]byte("x"))))
	exists, err = fs.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, fs.Delete(ctx, "a.pdf"))
	require.NoError(t, fs.Delete(ctx, "a.pdf"), "delete is idempotent")

	exists, err = fs.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFilesystemCreateExclusive(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.CreateExclusive(ctx, "report.pdf", bytes.NewReader([]byte("first"))))

	err := fs.CreateExclusive(ctx, "report.pdf", bytes.NewReader([]byte("second")))
	require.ErrorIs(t, err, ErrExists)
	require.Equal(t, []byte("first"), readAll(t, fs, "report.pdf"))

	info, err := os.Stat(fs.Path("report.pdf"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestFilesystemCreateExclusiveFailedWriteReleasesName(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	err := fs.CreateExclusive(ctx, "broken.bin", &failingReader{})
	require.Error(t, err)

	exists, err := fs.Exists(ctx, "broken.bin")
	require.NoError(t, err)
	require.False(t, exists)

	keys, err := fs.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, keys, "no temp files left behind")
}

func TestFilesystemCreateExclusiveConcurrent(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fs.CreateExclusive(ctx, "same.txt", bytes.NewReader([]byte("data")))
		}()
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, ErrExists)
	}
	require.Equal(t, 1, won)
}

func TestFilesystemList(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	for _, key := range []string{"a/1.txt", "a/2.txt", "b/3.txt"} {
		require.NoError(t, fs.CreateExclusive(ctx, key, bytes.NewReader([]byte(key))))
	}
	// Stray temp files are not listed.
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), "a", tmpPrefix+"x"), nil, 0644))

	keys, err := fs.List(ctx, "a")
	require.NoError(t, err)
	sort.Strings(keys)
	require.Equal(t, []string{"a/1.txt", "a/2.txt"}, keys)

	keys, err = fs.List(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestFilesystemPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	fs := newTestFilesystem(t)
	require.NoError(t, os.Chmod(fs.Root(), 0555))
	t.Cleanup(func() { _ = os.Chmod(fs.Root(), 0755) })

	err := fs.CreateExclusive(context.Background(), "x.pdf", bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, os.ErrPermission)
	require.Contains(t, err.Error(), "permission denied")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("source went away")
}

func readAll(t *testing.T, fs *Filesystem, key string) []byte {
	t.Helper()
	rc, err := fs.Read(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	return got
}

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return fs
}
