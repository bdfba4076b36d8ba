// Package webview hosts the web application in a Chromium page driven over
// the DevTools protocol. The page is made to look like a phone, receives the
// mobile-context signals after every load, and has its downloads routed
// through the download bridge.
package webview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/webshell/download"
	"github.com/wolfeidau/webshell/mobilectx"
)

// ErrBrowserClosed is returned by Run when the browser goes away while the
// shell is still running.
var ErrBrowserClosed = errors.New("browser closed")

// ResultFunc observes every download the view finishes.
type ResultFunc func(req download.Request, res *download.Result, err error)

// View is one hosted page and the browser that runs it.
type View struct {
	cfg    Config
	mobile mobilectx.Context
	saver  download.Saver
	logger *slog.Logger

	bridgeOpts []download.Option
	notifiers  []download.Notifier
	onResult   ResultFunc
	maxRetries int

	bridge *download.Bridge
	dedup  download.Deduplicator

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	injector string

	inflight sync.WaitGroup

	mu     sync.Mutex
	runCtx context.Context
}

// Option configures a View.
type Option func(*View)

// WithLogger sets the logger for the view and its bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(v *View) {
		v.logger = logger
	}
}

// WithBridgeOptions passes options through to the download bridge.
func WithBridgeOptions(opts ...download.Option) Option {
	return func(v *View) {
		v.bridgeOpts = append(v.bridgeOpts, opts...)
	}
}

// WithNotifier adds a notifier alongside the in-page toast.
func WithNotifier(n download.Notifier) Option {
	return func(v *View) {
		v.notifiers = append(v.notifiers, n)
	}
}

// WithMaxRetries sets the retry budget of downloads the page starts.
func WithMaxRetries(n int) Option {
	return func(v *View) {
		v.maxRetries = n
	}
}

// WithResultFunc registers fn to observe finished downloads.
func WithResultFunc(fn ResultFunc) Option {
	return func(v *View) {
		v.onResult = fn
	}
}

// New creates a view. Open must be called before the view is used.
func New(cfg Config, mobile mobilectx.Context, saver download.Saver, opts ...Option) *View {
	v := &View{
		cfg:        cfg,
		mobile:     mobile,
		saver:      saver,
		logger:     slog.Default(),
		maxRetries: download.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open starts or attaches to the browser, prepares a mobile page and
// navigates it to the entry URL derived from rawURL.
func (v *View) Open(ctx context.Context, rawURL string) error {
	entryURL, err := v.mobile.EntryURL(rawURL)
	if err != nil {
		return err
	}
	v.injector, err = v.mobile.InjectorScript()
	if err != nil {
		return err
	}

	if err := v.connect(ctx); err != nil {
		return err
	}

	page, err := v.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	v.page = page

	if err := v.prepare(); err != nil {
		return err
	}

	toast := NewToastNotifier(page, v.logger)
	notifiers := append(download.MultiNotifier{download.LogNotifier{Logger: v.logger}, toast}, v.notifiers...)
	bridgeOpts := append([]download.Option{
		download.WithLogger(v.logger),
		download.WithAppName(v.mobile.AppName),
	}, v.bridgeOpts...)
	bridgeOpts = append(bridgeOpts, download.WithNotifier(notifiers))
	v.bridge = download.New(v.saver, bridgeOpts...)

	v.logger.Info("opening page", "url", entryURL, "platform", v.mobile.Platform.String())
	if err := page.Context(ctx).Timeout(v.cfg.navigationTimeout()).Navigate(entryURL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.Context(ctx).Timeout(v.cfg.navigationTimeout()).WaitLoad(); err != nil {
		v.logger.Warn("page load did not complete", "error", err)
	}
	v.install(ctx)
	return nil
}

func (v *View) connect(ctx context.Context) error {
	controlURL := v.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(v.cfg.Headless)
		if v.cfg.Bin != "" {
			l = l.Bin(v.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		v.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	v.browser = browser
	v.logger.Debug("browser connected", "control_url", controlURL)
	return nil
}

// prepare applies device emulation, identity and download routing to the
// page before it loads anything.
func (v *View) prepare() error {
	page := v.page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             v.cfg.viewportWidth(),
		Height:            v.cfg.viewportHeight(),
		DeviceScaleFactor: v.cfg.scaleFactor(),
		Mobile:            true,
	}).Call(page); err != nil {
		return fmt.Errorf("set device metrics: %w", err)
	}
	if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(page); err != nil {
		v.logger.Warn("touch emulation unavailable", "error", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: v.mobile.UserAgent(),
		Platform:  v.mobile.Platform.String(),
	}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	if _, err := page.SetExtraHeaders(v.mobile.ExtraHeaders()); err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}

	if v.cfg.DownloadDir != "" {
		dir, err := filepath.Abs(v.cfg.DownloadDir)
		if err != nil {
			return fmt.Errorf("resolving download dir: %w", err)
		}
		if err := (proto.BrowserSetDownloadBehavior{
			Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllow,
			DownloadPath:  dir,
			EventsEnabled: true,
		}).Call(v.browser); err != nil {
			return fmt.Errorf("set download behavior: %w", err)
		}
	}

	if _, err := page.EvalOnNewDocument(v.injector); err != nil {
		return fmt.Errorf("register injector: %w", err)
	}
	if _, err := page.EvalOnNewDocument(downloadTriggerJS); err != nil {
		return fmt.Errorf("register download trigger: %w", err)
	}
	if _, err := page.Expose(bindingName, v.onTrigger); err != nil {
		return fmt.Errorf("expose download binding: %w", err)
	}
	return nil
}

// install re-runs the injector and trigger in the current document. Both are
// guarded, so running them after EvalOnNewDocument already did is harmless.
func (v *View) install(ctx context.Context) {
	for _, js := range []string{v.injector, downloadTriggerJS} {
		if _, err := v.page.Context(ctx).Evaluate(&rod.EvalOptions{
			JS:      "() => " + js,
			ByValue: true,
		}); err != nil {
			v.logger.Warn("installing page script failed", "error", err)
			return
		}
	}
	v.logger.Debug("page scripts installed")
}

// Run consumes page and browser events until ctx is done or the browser
// closes, then waits for downloads in flight.
func (v *View) Run(ctx context.Context) error {
	if v.page == nil {
		return errors.New("view is not open")
	}

	g, gctx := errgroup.WithContext(ctx)
	v.setRunContext(gctx)

	waitPage := v.page.Context(gctx).EachEvent(func(e *proto.PageLoadEventFired) {
		v.install(gctx)
	})
	waitBrowser := v.browser.Context(gctx).EachEvent(
		func(e *proto.BrowserDownloadWillBegin) {
			v.onDownloadWillBegin(gctx, e)
		},
		func(e *proto.BrowserDownloadProgress) {
			if e.State != proto.BrowserDownloadProgressStateInProgress {
				v.logger.Debug("browser download progress",
					"guid", e.GUID,
					"state", string(e.State),
					"received", e.ReceivedBytes,
				)
			}
		},
	)

	closed := func() error {
		if gctx.Err() != nil {
			return nil
		}
		return ErrBrowserClosed
	}
	g.Go(func() error {
		waitPage()
		return closed()
	})
	g.Go(func() error {
		waitBrowser()
		return closed()
	})

	err := g.Wait()
	v.inflight.Wait()
	return err
}

func (v *View) onDownloadWillBegin(ctx context.Context, e *proto.BrowserDownloadWillBegin) {
	req := download.NewRequest(e.URL)
	req.FilenameHint = e.SuggestedFilename

	if req.Scheme() == download.SchemeBlob {
		// The browser cannot save an object URL on every platform; the
		// bridge recovers the bytes from the page instead.
		if err := (proto.BrowserCancelDownload{GUID: e.GUID}).Call(v.browser); err != nil {
			v.logger.Debug("cancelling browser download failed", "guid", e.GUID, "error", err)
		}
	}
	v.spawn(ctx, req)
}

// onTrigger serves window.webViewAppDownload(url, filename).
func (v *View) onTrigger(arg gson.JSON) (interface{}, error) {
	rawURL := arg.Get("url").Str()
	if rawURL == "" {
		return false, errors.New("url is required")
	}
	req := download.NewRequest(rawURL)
	req.FilenameHint = arg.Get("filename").Str()
	v.spawn(v.downloadContext(), req)
	return true, nil
}

func (v *View) setRunContext(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.runCtx = ctx
}

// downloadContext is the context for downloads the page or the ops API
// start. Once Run is active they stop with it.
func (v *View) downloadContext() context.Context {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.runCtx != nil {
		return v.runCtx
	}
	return v.page.GetContext()
}

// Enqueue starts req in the background, as if the page had asked for it.
// The outcome is reported to the ResultFunc.
func (v *View) Enqueue(req download.Request) {
	if v.page == nil {
		if v.onResult != nil {
			v.onResult(req, nil, errors.New("view is not open"))
		}
		return
	}
	v.spawn(v.downloadContext(), req)
}

func (v *View) spawn(ctx context.Context, req download.Request) {
	req.MaxRetries = v.maxRetries
	v.inflight.Add(1)
	go func() {
		defer v.inflight.Done()
		res, err := v.Download(ctx, req)
		if v.onResult != nil {
			v.onResult(req, res, err)
		}
	}()
}

// Download runs req through the bridge against this page. Concurrent requests
// for the same URL share one download.
func (v *View) Download(ctx context.Context, req download.Request) (*download.Result, error) {
	if v.bridge == nil {
		return nil, errors.New("view is not open")
	}
	res, shared, err := v.dedup.Do(ctx, req.URL, func(ctx context.Context) (*download.Result, error) {
		return v.bridge.Download(ctx, v, req)
	})
	if shared {
		v.logger.Debug("download shared with concurrent request", "url", req.URL)
	}
	return res, err
}

// Page returns the underlying page.
func (v *View) Page() *rod.Page {
	return v.page
}

// Close closes the page and the browser, killing it if the view launched it.
func (v *View) Close() error {
	v.inflight.Wait()

	var errs []error
	if v.page != nil {
		if err := v.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		v.page = nil
	}
	if v.browser != nil {
		if err := v.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		v.browser = nil
	}
	if v.launcher != nil {
		v.launcher.Kill()
		v.launcher.Cleanup()
		v.launcher = nil
	}
	return errors.Join(errs...)
}
