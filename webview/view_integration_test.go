//go:build integration

package webview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/webshell"
	"github.com/wolfeidau/webshell/backend"
	"github.com/wolfeidau/webshell/download"
	"github.com/wolfeidau/webshell/mobilectx"
	"github.com/wolfeidau/webshell/save"
)

const testPage = `<!doctype html>
<html><body>
<a id="dl" download="report.csv">download</a>
<script>
function makeAndClick() {
	const blob = new Blob(["a,b\n1,2\n"], { type: "text/csv" });
	const url = URL.createObjectURL(blob);
	const a = document.getElementById("dl");
	a.href = url;
	setTimeout(() => { a.click(); URL.revokeObjectURL(url); }, 200);
}
</script>
</body></html>`

type headerRecorder struct {
	mu      sync.Mutex
	headers http.Header
	query   string
}

func openTestView(t *testing.T) (*View, string, *headerRecorder) {
	t.Helper()

	rec := &headerRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.headers = r.Header.Clone()
		rec.query = r.URL.RawQuery
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	fs, err := backend.NewFilesystem(dir)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Bin = os.Getenv("WEBSHELL_BROWSER_BIN")
	cfg.DownloadDir = filepath.Join(dir, "browser")

	mobile := mobilectx.Context{Platform: webshell.PlatformAndroid, AppName: "Notes", Version: "2.1.0", CacheCapacity: 15}
	v := New(cfg, mobile, save.NewDirectory(fs))
	t.Cleanup(func() { _ = v.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, v.Open(ctx, srv.URL+"/app?x=1"))
	return v, dir, rec
}

func TestViewInstallsMobileContext(t *testing.T) {
	v, _, rec := openTestView(t)

	res, err := v.Page().Evaluate(&rod.EvalOptions{
		JS:      `() => [window.isWebViewApp, window.webViewAppPlatform, document.documentElement.className, navigator.userAgent]`,
		ByValue: true,
	})
	require.NoError(t, err)
	arr := res.Value.Arr()
	require.True(t, arr[0].Bool())
	require.Equal(t, "android", arr[1].Str())
	require.Contains(t, arr[2].Str(), "webview-app-android")
	require.Contains(t, arr[3].Str(), "Notes/2.1.0 WebViewApp/android")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, "true", rec.headers.Get(mobilectx.HeaderMobileApp))
	require.Equal(t, "2.1.0", rec.headers.Get(mobilectx.HeaderAppVersion))
	require.Contains(t, rec.query, "mobile=true")
	require.Contains(t, rec.query, "platform=android")
}

func TestViewRecoversRevokedBlob(t *testing.T) {
	v, dir, _ := openTestView(t)

	var mu sync.Mutex
	var results []*download.Result
	v.onResult = func(req download.Request, res *download.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			results = append(results, res)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	_, err := v.Page().Evaluate(&rod.EvalOptions{JS: `() => makeAndClick()`})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, 30*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	res := results[0]
	require.Equal(t, "csv", res.Extension)
	require.Equal(t, dir, filepath.Dir(res.Path))
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2\n", string(got))
}

const fillCacheJS = `async () => {
	const wait = (ms) => new Promise((resolve) => setTimeout(resolve, ms));
	const urls = [];
	for (let i = 0; i < 16; i++) {
		const url = URL.createObjectURL(new Blob(["blob " + i], { type: "text/plain" }));
		urls.push(url);
		for (let n = 0; n < 200 && !(url in window.blobDataCache); n++) {
			await wait(5);
		}
		// Distinct capture times keep the eviction order unambiguous.
		await wait(5);
	}
	URL.revokeObjectURL(urls[5]);
	return {
		size: Object.keys(window.blobDataCache).length,
		first: urls[0] in window.blobDataCache,
		second: urls[1] in window.blobDataCache,
		last: urls[15] in window.blobDataCache,
		revokedCached: urls[5] in window.blobDataCache,
		revokedLive: urls[5] in window.capturedBlobs,
	};
}`

func TestPageBlobCacheEvictsOldestCapture(t *testing.T) {
	v, _, _ := openTestView(t)

	res, err := v.Page().Evaluate(&rod.EvalOptions{
		JS:           fillCacheJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	require.NoError(t, err)

	got := res.Value
	require.Equal(t, 15, got.Get("size").Int())
	require.False(t, got.Get("first").Bool(), "oldest capture is evicted")
	require.True(t, got.Get("second").Bool())
	require.True(t, got.Get("last").Bool())
	require.True(t, got.Get("revokedCached").Bool(), "revoking keeps the cached bytes")
	require.False(t, got.Get("revokedLive").Bool())
}
