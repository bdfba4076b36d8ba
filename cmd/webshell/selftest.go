package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/webshell/backend"
	"github.com/wolfeidau/webshell/download"
	"github.com/wolfeidau/webshell/memview"
	"github.com/wolfeidau/webshell/save"
)

type selftestCmd struct {
	Dir     string `help:"Directory to save test downloads to. Defaults to a temporary directory." type:"path"`
	AppName string `help:"Application name used in file names." default:"WebShell"`
	Keep    bool   `help:"Keep the temporary directory."`
}

// scenario is one download the self test runs and its expected outcome.
type scenario struct {
	name    string
	setup   func(v *memview.View) string
	wantExt string
	wantErr bool
}

var pdfHeader = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

func scenarios() []scenario {
	return []scenario{
		{
			name:    "cached blob",
			setup:   func(v *memview.View) string { return v.CreateBlob(pdfHeader, "application/pdf") },
			wantExt: "pdf",
		},
		{
			name: "revoked blob served from cache",
			setup: func(v *memview.View) string {
				u := v.CreateBlob([]byte("name,total\nwidgets,3\n"), "text/csv")
				v.RevokeBlob(u)
				return u
			},
			wantExt: "csv",
		},
		{
			name: "blob created before injection",
			setup: func(v *memview.View) string {
				return v.CreateBlobUncached([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}, "")
			},
			wantExt: "png",
		},
		{
			name: "evicted and revoked blob",
			setup: func(v *memview.View) string {
				u := v.CreateBlob([]byte("gone"), "text/plain")
				for range v.Cache().Capacity() {
					v.CreateBlob([]byte("filler"), "text/plain")
				}
				v.RevokeBlob(u)
				return u
			},
			wantErr: true,
		},
		{
			name:    "generic url",
			setup:   func(*memview.View) string { return "https://example.com/files/report.pdf" },
			wantExt: "",
		},
	}
}

func (c *selftestCmd) Run(g *Globals) error {
	logger := g.logger(os.Stderr)
	ctx, cancel := signalContext(logger)
	defer cancel()

	dir := c.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "webshell-selftest-")
		if err != nil {
			return fmt.Errorf("creating temp dir: %w", err)
		}
		dir = tmp
		if !c.Keep {
			defer func() { _ = os.RemoveAll(tmp) }()
		}
	}

	fs, err := backend.NewFilesystem(dir)
	if err != nil {
		return err
	}
	saver := save.NewDirectory(backend.NewInstrumentedBackend(fs, "filesystem"), save.WithLogger(logger))

	view := memview.New(memview.WithLogger(logger))
	defer func() { _ = view.Close() }()

	// Accelerated timings keep the expected failure from taking seventeen seconds.
	bridge := download.New(saver,
		download.WithLogger(logger),
		download.WithAppName(c.AppName),
		download.WithPollSchedule(download.PollSchedule{
			FastInterval: 20 * time.Millisecond,
			FastAttempts: 6,
			SlowInterval: 50 * time.Millisecond,
			MaxAttempts:  20,
		}),
		download.WithRetryDelay(func(n int) time.Duration { return time.Duration(n+1) * 100 * time.Millisecond }),
	)

	failed := runScenarios(ctx, os.Stdout, bridge, view, scenarios())
	if err := printFiles(ctx, os.Stdout, saver); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios()))
	}
	return nil
}

func runScenarios(ctx context.Context, out io.Writer, bridge *download.Bridge, view *memview.View, list []scenario) int {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SCENARIO\tRESULT\tDETAIL")

	var failed int
	for _, sc := range list {
		res, err := bridge.Download(ctx, view, download.NewRequest(sc.setup(view)))
		ok, detail := check(sc, res, err)
		status := "ok"
		if !ok {
			status = "FAIL"
			failed++
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", sc.name, status, detail)
	}
	_ = tw.Flush()
	return failed
}

func printFiles(ctx context.Context, out io.Writer, saver *save.Directory) error {
	files, err := saver.Files(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "\n%d files saved\n", len(files))
	for _, f := range files {
		_, _ = fmt.Fprintf(out, "  %s\n", f.Path)
	}
	return nil
}

func check(sc scenario, res *download.Result, err error) (bool, string) {
	if sc.wantErr {
		if err == nil {
			return false, "expected a failure, got " + res.Path
		}
		return !errors.Is(err, context.Canceled), download.UserMessage(err)
	}
	if err != nil {
		return false, err.Error()
	}
	if res.Delegated {
		return sc.wantExt == "", "delegated to browser"
	}
	if res.Extension != sc.wantExt {
		return false, fmt.Sprintf("extension %q, want %q", res.Extension, sc.wantExt)
	}
	return true, fmt.Sprintf("%s (%d bytes, %s)", res.Path, res.Size, res.Digest.ShortString())
}
