package download

import (
	"context"
	"log/slog"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a message for the shell's notification surface. Info
// notifications are transient; success and error notifications are terminal.
type Notification struct {
	Level   Level
	Message string
	URL     string
	Attempt int
	Path    string
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelWarn
	}
	attrs := []any{"level_tag", string(n.Level), "url", n.URL, "attempt", n.Attempt}
	if n.Path != "" {
		attrs = append(attrs, "path", n.Path)
	}
	logger.Log(ctx, level, n.Message, attrs...)
}

// MultiNotifier fans a notification out to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

var _ Notifier = LogNotifier{}
var _ Notifier = MultiNotifier(nil)
