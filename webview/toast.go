package webview

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod"

	"github.com/wolfeidau/webshell/download"
	"github.com/wolfeidau/webshell/telemetry"
)

// ToastNotifier shows download notifications inside the hosted page.
type ToastNotifier struct {
	page   *rod.Page
	logger *slog.Logger
}

// NewToastNotifier returns a notifier rendering into page.
func NewToastNotifier(page *rod.Page, logger *slog.Logger) *ToastNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToastNotifier{page: page, logger: logger}
}

// Notify implements download.Notifier. Rendering failures are logged and
// otherwise ignored.
func (t *ToastNotifier) Notify(ctx context.Context, n download.Notification) {
	telemetry.RecordNotification(ctx, string(n.Level))
	if t.page == nil {
		return
	}
	_, err := t.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      toastJS,
		JSArgs:  []interface{}{string(n.Level), n.Message},
		ByValue: true,
	})
	if err != nil {
		t.logger.Debug("rendering toast failed", "error", err)
	}
}

var _ download.Notifier = (*ToastNotifier)(nil)
