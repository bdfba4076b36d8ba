// Command webshell hosts a web application in a mobile-emulating browser
// shell and saves the files it downloads, including blob URLs.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/webshell/server"
	"github.com/wolfeidau/webshell/telemetry"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	LogLevel       string           `help:"Log level." enum:"debug,info,warn,error" default:"info"`
	LogFormat      string           `help:"Log format." enum:"text,json" default:"text"`
	OpsAddress     string           `help:"Serve health, metrics and download history on this address (e.g. 127.0.0.1:9090)."`
	OpsToken       string           `help:"Bearer token required by the ops API, except /health and /metrics."`
	OTLPEndpoint   string           `name:"otlp-endpoint" help:"Export metrics to this OTLP gRPC endpoint."`
	Config         kong.ConfigFlag  `help:"Load configuration from a JSON file."`
	ShowVersion    kong.VersionFlag `name:"version" help:"Print version and exit."`
}

type cli struct {
	Globals

	Run      runCmd      `cmd:"" help:"Open a web application in the shell."`
	Selftest selftestCmd `cmd:"" help:"Exercise the download bridge against an in-memory page."`
	Version  versionCmd  `cmd:"" name:"version" help:"Print version information."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("webshell"),
		kong.Description("Mobile web application shell with blob download recovery."),
		kong.UsageOnError(),
		kong.DefaultEnvars("WEBSHELL"),
		kong.Configuration(kong.JSON, "/etc/webshell/config.json", "~/.config/webshell/config.json"),
		kong.Vars{"version": version},
	)
	if err := kctx.Run(&c.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *Globals) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch g.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if g.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// initMetrics sets up the meter provider. Prometheus is enabled when an ops
// address is configured, since that is where /metrics is served.
func (g *Globals) initMetrics(ctx context.Context) (func(context.Context) error, error) {
	shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "webshell",
		ServiceVersion:   version,
		OTLPEndpoint:     g.OTLPEndpoint,
		EnablePrometheus: g.OpsAddress != "",
	})
	if err != nil {
		return nil, fmt.Errorf("initialising metrics: %w", err)
	}
	return shutdown, nil
}

// startOps serves the ops API until ctx is done. It does nothing without an
// ops address.
func (g *Globals) startOps(ctx context.Context, eg *errgroup.Group, cfg server.Config) {
	if g.OpsAddress == "" {
		return
	}
	cfg.Address = g.OpsAddress
	cfg.AuthToken = g.OpsToken
	srv := server.New(cfg)

	eg.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

type versionCmd struct{}

func (versionCmd) Run(g *Globals) error {
	fmt.Println("webshell", version)
	return nil
}
