// Package save persists recovered downloads into a download directory.
package save

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/wolfeidau/webshell/backend"
	"github.com/wolfeidau/webshell/download"
)

// DefaultMaxSuffix bounds the "_N" suffixes tried before giving up on a name.
const DefaultMaxSuffix = 999

// ErrNoFreeName is returned when every candidate name is taken.
var ErrNoFreeName = errors.New("no free file name")

// Directory saves files into a backend without ever overwriting one.
// A taken name gets a "_1", "_2", ... suffix before the extension.
type Directory struct {
	backend   backend.Backend
	logger    *slog.Logger
	maxSuffix int
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger for the saver.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

// WithMaxSuffix sets how many suffixed names are tried.
func WithMaxSuffix(n int) Option {
	return func(d *Directory) {
		d.maxSuffix = n
	}
}

// NewDirectory creates a saver writing into b.
func NewDirectory(b backend.Backend, opts ...Option) *Directory {
	d := &Directory{
		backend:   b,
		logger:    slog.Default(),
		maxSuffix: DefaultMaxSuffix,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Save writes data as name.ext and returns the saved file's path.
// Backend errors, including permission denials, are returned as they are.
func (d *Directory) Save(ctx context.Context, name string, data []byte, ext, mimeType string) (string, error) {
	base := cleanName(name)
	ext = strings.TrimPrefix(cleanName(ext), ".")

	for i := 0; i <= d.maxSuffix; i++ {
		key := candidate(base, ext, i)
		err := d.backend.CreateExclusive(ctx, key, bytes.NewReader(data))
		if errors.Is(err, backend.ErrExists) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", key, err)
		}
		path := d.path(key)
		d.logger.Debug("download written", "path", path, "mime_type", mimeType, "size", len(data))
		return path, nil
	}
	return "", fmt.Errorf("saving %s.%s: %w", base, ext, ErrNoFreeName)
}

// File is one saved download.
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Files lists the saved downloads, sorted by name. Hidden entries such as the
// browser's own download directory are skipped.
func (d *Directory) Files(ctx context.Context) ([]File, error) {
	keys, err := d.backend.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing downloads: %w", err)
	}
	files := make([]File, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, ".") || strings.Contains(key, "/.") {
			continue
		}
		files = append(files, File{Name: key, Path: d.path(key)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Open returns the content of the saved file name. The caller must close it.
func (d *Directory) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := savedKey(name)
	if err != nil {
		return nil, err
	}
	return d.backend.Read(ctx, key)
}

// Remove deletes the saved file name. It returns backend.ErrNotFound when
// no such file exists.
func (d *Directory) Remove(ctx context.Context, name string) error {
	key, err := savedKey(name)
	if err != nil {
		return err
	}
	exists, err := d.backend.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return backend.ErrNotFound
	}
	if err := d.backend.Delete(ctx, key); err != nil {
		return err
	}
	d.logger.Info("download removed", "path", d.path(key))
	return nil
}

func (d *Directory) path(key string) string {
	if l, ok := d.backend.(backend.Locator); ok {
		return l.Path(key)
	}
	return key
}

// savedKey accepts only names Save could have produced.
func savedKey(name string) (string, error) {
	if name == "" || cleanName(name) != name {
		return "", fmt.Errorf("invalid file name %q: %w", name, backend.ErrNotFound)
	}
	return name, nil
}

func candidate(base, ext string, n int) string {
	name := base
	if n > 0 {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// cleanName keeps a name inside the download directory.
func cleanName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "download"
	}
	return s
}

var _ download.Saver = (*Directory)(nil)
