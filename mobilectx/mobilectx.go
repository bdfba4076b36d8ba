// Package mobilectx renders the mobile-context signals the shell adds to the
// hosted web application: the page injector script, the entry URL query
// parameters and the request headers.
package mobilectx

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"text/template"

	"github.com/wolfeidau/webshell"
	"github.com/wolfeidau/webshell/blobcache"
)

// Names of the page globals and events the injector installs.
const (
	GlobalIsApp       = "isWebViewApp"
	GlobalPlatform    = "webViewAppPlatform"
	GlobalVersion     = "webViewAppVersion"
	ReadyEvent        = "webViewAppReady"
	CapturedBlobs     = "capturedBlobs"
	BlobDataCache     = "blobDataCache"
	LastBlobURL       = "lastGeneratedBlobUrl"
	DownloadResults   = "blobDownloadResults"
	WrapperClass      = "webview-app"
	platformClassBase = "webview-app-"
)

// Header names sent with every request from the shell.
const (
	HeaderMobileApp  = "X-Mobile-App"
	HeaderPlatform   = "X-Platform"
	HeaderAppVersion = "X-App-Version"
	HeaderUserAgent  = "User-Agent"
)

//go:embed injector.js.tmpl
var injectorSource string

var (
	injectorOnce sync.Once
	injectorTmpl *template.Template
	injectorErr  error
)

// Context describes how the shell identifies itself to the page.
type Context struct {
	Platform      webshell.Platform
	AppName       string
	Version       string
	CacheCapacity int
}

type injectorData struct {
	Platform      string
	Version       string
	CacheCapacity int
	WrapperClass  string
	PlatformClass string
	ReadyEvent    string
}

// InjectorScript renders the script installed into the page after each load.
// The script is an expression that evaluates to true when it installed the
// signals and false when a previous run already had.
func (c Context) InjectorScript() (string, error) {
	injectorOnce.Do(func() {
		injectorTmpl, injectorErr = template.New("injector").Parse(injectorSource)
	})
	if injectorErr != nil {
		return "", fmt.Errorf("parsing injector template: %w", injectorErr)
	}

	capacity := c.CacheCapacity
	if capacity <= 0 {
		capacity = blobcache.DefaultCapacity
	}

	var sb strings.Builder
	err := injectorTmpl.Execute(&sb, injectorData{
		Platform:      c.Platform.String(),
		Version:       c.Version,
		CacheCapacity: capacity,
		WrapperClass:  WrapperClass,
		PlatformClass: platformClassBase + c.Platform.String(),
		ReadyEvent:    ReadyEvent,
	})
	if err != nil {
		return "", fmt.Errorf("rendering injector: %w", err)
	}
	return sb.String(), nil
}

// EntryURL adds mobile=true and platform=<platform> to raw, keeping any
// other query parameters.
func (c Context) EntryURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing entry url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid entry url %q: scheme and host are required", raw)
	}
	q := u.Query()
	q.Set("mobile", "true")
	q.Set("platform", c.Platform.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Headers returns the request headers that mark traffic as coming from the shell.
func (c Context) Headers() map[string]string {
	return map[string]string{
		HeaderUserAgent:  c.UserAgent(),
		HeaderMobileApp:  "true",
		HeaderPlatform:   c.Platform.String(),
		HeaderAppVersion: c.Version,
	}
}

// ExtraHeaders returns Headers without User-Agent as a flat key/value list,
// the form the browser's extra header override expects.
func (c Context) ExtraHeaders() []string {
	return []string{
		HeaderMobileApp, "true",
		HeaderPlatform, c.Platform.String(),
		HeaderAppVersion, c.Version,
	}
}

// UserAgent composes the shell's User-Agent string.
func (c Context) UserAgent() string {
	osToken := "Linux; Android 14; Mobile"
	if c.Platform == webshell.PlatformIOS {
		osToken = "iPhone; CPU iPhone OS 17_0 like Mac OS X"
	}
	app := strings.ReplaceAll(strings.TrimSpace(c.AppName), " ", "")
	if app == "" {
		app = "WebViewApp"
	}
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Mobile Safari/537.36 %s/%s WebViewApp/%s",
		osToken, app, c.Version, c.Platform)
}
