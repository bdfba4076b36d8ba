package filetype

import (
	"strings"
	"time"
)

const nameLayout = "2006-01-02_15-04-05"

// Namer synthesizes download file names. Names supplied by content are never
// used; only their extension survives, through Infer.
type Namer struct {
	AppName string
	Now     func() time.Time
}

// Name returns "{AppName}_{YYYY-MM-DD}_{HH-MM-SS}" without an extension.
func (n Namer) Name() string {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	app := sanitize(n.AppName)
	if app == "" {
		app = "download"
	}
	return app + "_" + now().Format(nameLayout)
}

// FileName returns Name() joined with ext.
func (n Namer) FileName(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = DefaultExtension
	}
	return n.Name() + "." + ext
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}
