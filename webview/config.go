package webview

import (
	"time"
)

// Config holds browser configuration for the shell.
type Config struct {
	// DebuggerURL attaches to a running browser instead of launching one.
	DebuggerURL string `json:"debugger_url"`
	// Bin is the browser binary to launch. Empty lets the launcher find or
	// download one.
	Bin               string        `json:"bin"`
	Headless          bool          `json:"headless"`
	ViewportWidth     int           `json:"viewport_width"`
	ViewportHeight    int           `json:"viewport_height"`
	DeviceScaleFactor float64       `json:"device_scale_factor"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
	// DownloadDir receives downloads the browser performs itself.
	DownloadDir string `json:"download_dir"`
}

// DefaultConfig returns a phone-sized viewport.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     390,
		ViewportHeight:    844,
		DeviceScaleFactor: 3,
		NavigationTimeout: 30 * time.Second,
	}
}

func (c Config) viewportWidth() int {
	if c.ViewportWidth <= 0 {
		return 390
	}
	return c.ViewportWidth
}

func (c Config) viewportHeight() int {
	if c.ViewportHeight <= 0 {
		return 844
	}
	return c.ViewportHeight
}

func (c Config) scaleFactor() float64 {
	if c.DeviceScaleFactor <= 0 {
		return 1
	}
	return c.DeviceScaleFactor
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}
