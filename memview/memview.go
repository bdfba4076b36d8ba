// Package memview is an in-process stand-in for a page runtime. It keeps the
// same blob bookkeeping as the injected page script and answers the bridge's
// recovery protocol from it, so downloads can be exercised without a browser.
package memview

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/webshell"
	"github.com/wolfeidau/webshell/blobcache"
	"github.com/wolfeidau/webshell/download"
	"github.com/wolfeidau/webshell/telemetry"
)

// DefaultOrigin is the origin minted blob URLs belong to.
const DefaultOrigin = "https://app.local"

// ErrFetchFailed is what the default fetcher returns, mirroring a page whose
// fetch of a revoked blob URL rejects.
var ErrFetchFailed = errors.New("TypeError: Failed to fetch")

// Fetcher resolves a blob URL that is neither cached nor live.
type Fetcher func(ctx context.Context, blobURL string) (data []byte, mimeType string, err error)

type liveBlob struct {
	data     []byte
	mimeType string
}

// View holds blobs created "in the page" and the result slots the bridge polls.
type View struct {
	origin string
	logger *slog.Logger
	fetch  Fetcher

	cache *blobcache.Cache

	mu      sync.Mutex
	live    map[string]liveBlob
	results map[string]*download.BlobResult
	last    string

	wg sync.WaitGroup
}

// Option configures a View.
type Option func(*viewConfig)

type viewConfig struct {
	origin    string
	logger    *slog.Logger
	fetch     Fetcher
	capacity  int
	cacheOpts []blobcache.Option
}

// WithOrigin sets the origin of minted blob URLs.
func WithOrigin(origin string) Option {
	return func(c *viewConfig) {
		c.origin = origin
	}
}

// WithLogger sets the logger for the view.
func WithLogger(logger *slog.Logger) Option {
	return func(c *viewConfig) {
		c.logger = logger
	}
}

// WithFetcher replaces the fallback used for blobs that are neither cached
// nor live.
func WithFetcher(fn Fetcher) Option {
	return func(c *viewConfig) {
		c.fetch = fn
	}
}

// WithCacheCapacity sets the blob cache capacity.
func WithCacheCapacity(n int) Option {
	return func(c *viewConfig) {
		c.capacity = n
	}
}

// WithCacheOptions passes options through to the blob cache.
func WithCacheOptions(opts ...blobcache.Option) Option {
	return func(c *viewConfig) {
		c.cacheOpts = append(c.cacheOpts, opts...)
	}
}

// New creates an empty view.
func New(opts ...Option) *View {
	cfg := viewConfig{
		origin:   DefaultOrigin,
		logger:   slog.Default(),
		fetch:    failFetch,
		capacity: blobcache.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	v := &View{
		origin:  cfg.origin,
		logger:  cfg.logger,
		fetch:   cfg.fetch,
		live:    make(map[string]liveBlob),
		results: make(map[string]*download.BlobResult),
	}
	cacheOpts := append([]blobcache.Option{
		blobcache.WithEvictCallback(func(e blobcache.Entry) {
			v.logger.Debug("blob evicted", "url", e.URL, "size", e.Size)
			telemetry.RecordBlobEviction(context.Background(), "memory")
		}),
	}, cfg.cacheOpts...)
	v.cache = blobcache.New(cfg.capacity, cacheOpts...)
	return v
}

func failFetch(context.Context, string) ([]byte, string, error) {
	return nil, "", ErrFetchFailed
}

// CreateBlob mints a blob URL for data and captures it, as the page's
// createObjectURL wrapper does.
func (v *View) CreateBlob(data []byte, mimeType string) string {
	u := v.mint(data, mimeType)
	v.cache.Put(u, data, mimeType)
	telemetry.RecordBlobCapture(context.Background(), "memory")
	return u
}

// CreateBlobUncached mints a live blob URL without caching it, like a blob
// created before the injector ran.
func (v *View) CreateBlobUncached(data []byte, mimeType string) string {
	return v.mint(data, mimeType)
}

func (v *View) mint(data []byte, mimeType string) string {
	u := fmt.Sprintf("blob:%s/%s", v.origin, uuid.NewString())
	v.mu.Lock()
	v.live[u] = liveBlob{data: data, mimeType: mimeType}
	v.last = u
	v.mu.Unlock()
	return u
}

// RevokeBlob drops the liveness record for blobURL. Cached bytes survive.
func (v *View) RevokeBlob(blobURL string) {
	v.mu.Lock()
	delete(v.live, blobURL)
	v.mu.Unlock()
}

// LastBlobURL returns the most recently minted blob URL.
func (v *View) LastBlobURL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

// Cache exposes the view's blob cache.
func (v *View) Cache() *blobcache.Cache {
	return v.cache
}

// StartBlobRecovery resolves blobURL in the background and writes the outcome
// to the slot for requestID.
func (v *View) StartBlobRecovery(ctx context.Context, requestID, blobURL string) error {
	if _, err := webshell.ParseBlobURL(blobURL); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		res := v.resolve(ctx, blobURL)
		v.mu.Lock()
		v.results[requestID] = res
		v.mu.Unlock()
	}()
	return nil
}

// resolve looks in the cache, then the live blobs, then falls back to fetch.
func (v *View) resolve(ctx context.Context, blobURL string) *download.BlobResult {
	if e, ok := v.cache.Get(blobURL); ok {
		v.logger.Debug("blob served from cache", "url", blobURL)
		return encode(e.Data, e.MIMEType)
	}

	v.mu.Lock()
	lb, ok := v.live[blobURL]
	v.mu.Unlock()
	if ok {
		v.logger.Debug("blob served from live map", "url", blobURL)
		return encode(lb.data, lb.mimeType)
	}

	data, mimeType, err := v.fetch(ctx, blobURL)
	if err != nil {
		return &download.BlobResult{Success: false, Error: err.Error()}
	}
	return encode(data, mimeType)
}

func encode(data []byte, mimeType string) *download.BlobResult {
	return &download.BlobResult{
		Success: true,
		Data:    base64.StdEncoding.EncodeToString(data),
		Type:    mimeType,
		Size:    int64(len(data)),
	}
}

// BlobResult returns the slot for requestID, or nil while it is unwritten.
func (v *View) BlobResult(ctx context.Context, requestID string) (*download.BlobResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.results[requestID], nil
}

// ClearBlobResult removes the slot for requestID.
func (v *View) ClearBlobResult(ctx context.Context, requestID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.results, requestID)
	return nil
}

// PendingResults returns the number of slots not yet cleared.
func (v *View) PendingResults() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.results)
}

// Wait blocks until every started recovery has written its slot.
func (v *View) Wait() {
	v.wg.Wait()
}

// Close waits for in-flight recoveries.
func (v *View) Close() error {
	v.Wait()
	return nil
}

var _ download.Page = (*View)(nil)
