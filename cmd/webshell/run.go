package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/webshell"
	"github.com/wolfeidau/webshell/backend"
	"github.com/wolfeidau/webshell/blobcache"
	"github.com/wolfeidau/webshell/download"
	"github.com/wolfeidau/webshell/mobilectx"
	"github.com/wolfeidau/webshell/save"
	"github.com/wolfeidau/webshell/server"
	"github.com/wolfeidau/webshell/webview"
)

type runCmd struct {
	URL string `arg:"" help:"Entry URL of the web application."`

	Platform      string        `help:"Platform to present as." enum:"android,ios" default:"android"`
	AppName       string        `help:"Application name used in the User-Agent and file names." default:"WebShell"`
	AppVersion    string        `help:"Application version reported to the page." default:"${version}"`
	DownloadDir   string        `help:"Directory downloads are saved to." default:"./downloads" type:"path"`
	CacheCapacity int           `help:"Blobs the page keeps for recovery." default:"15"`
	MaxRetries    int           `help:"Retries for transient download failures." default:"1"`
	Headless      bool          `help:"Run the browser without a window." default:"true" negatable:""`
	Bin           string        `help:"Browser binary to launch."`
	DebuggerURL   string        `help:"Attach to a running browser's DevTools endpoint."`
	Width         int           `help:"Viewport width in CSS pixels." default:"390"`
	Height        int           `help:"Viewport height in CSS pixels." default:"844"`
	ScaleFactor   float64       `help:"Device scale factor." default:"3"`
	NavTimeout    time.Duration `help:"Navigation timeout." default:"30s"`
	HistorySize   int           `help:"Downloads kept in the ops history." default:"50"`
}

func (c *runCmd) Run(g *Globals) error {
	logger := g.logger(os.Stderr)

	platform, err := webshell.ParsePlatform(c.Platform)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	shutdownMetrics, err := g.initMetrics(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	fs, err := backend.NewFilesystem(c.DownloadDir)
	if err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	saver := save.NewDirectory(backend.NewInstrumentedBackend(fs, "filesystem"), save.WithLogger(logger))

	capacity := c.CacheCapacity
	if capacity <= 0 {
		capacity = blobcache.DefaultCapacity
	}
	mobile := mobilectx.Context{
		Platform:      platform,
		AppName:       c.AppName,
		Version:       c.AppVersion,
		CacheCapacity: capacity,
	}

	cfg := webview.Config{
		DebuggerURL:       c.DebuggerURL,
		Bin:               c.Bin,
		Headless:          c.Headless,
		ViewportWidth:     c.Width,
		ViewportHeight:    c.Height,
		DeviceScaleFactor: c.ScaleFactor,
		NavigationTimeout: c.NavTimeout,
		DownloadDir:       filepath.Join(fs.Root(), ".browser"),
	}

	history := server.NewHistory(c.HistorySize)
	view := webview.New(cfg, mobile, saver,
		webview.WithLogger(logger),
		webview.WithResultFunc(func(req download.Request, res *download.Result, err error) {
			history.Add(req, res, err)
			if err != nil || res.Delegated || res.Cancelled {
				return
			}
			logger.Info("download complete", "path", res.Path, "digest", res.Digest.String())
		}),
		webview.WithMaxRetries(c.MaxRetries),
	)
	defer func() {
		if err := view.Close(); err != nil {
			logger.Warn("closing browser", "error", err)
		}
	}()

	if err := view.Open(ctx, c.URL); err != nil {
		return err
	}
	logger.Info("shell started", "url", c.URL, "downloads", fs.Root())

	g.startOps(ctx, eg, server.Config{
		History:    history,
		Downloader: view,
		Files:      saver,
		Logger:     logger,
	})

	eg.Go(func() error {
		err := view.Run(ctx)
		if errors.Is(err, webview.ErrBrowserClosed) {
			logger.Info("browser closed")
			cancel()
			return nil
		}
		return err
	})

	return eg.Wait()
}
