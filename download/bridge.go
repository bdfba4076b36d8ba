// Package download implements the shell's download bridge. Ordinary URLs are
// left to the browser; blob URLs, which only resolve inside the page that
// created them, are recovered through the page's script runtime, typed, named
// and handed to a Saver. Every download ends in exactly one terminal
// notification.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/webshell"
	"github.com/wolfeidau/webshell/filetype"
	"github.com/wolfeidau/webshell/telemetry"
)

// DefaultMaxRetries is the number of retries a transient failure gets.
const DefaultMaxRetries = 1

// SchemeClass separates URLs the bridge must recover from URLs the browser
// downloads on its own.
type SchemeClass string

const (
	SchemeBlob    SchemeClass = "blob"
	SchemeGeneric SchemeClass = "generic"
)

// Classify returns the scheme class of raw.
func Classify(raw string) SchemeClass {
	if webshell.IsBlobURL(raw) {
		return SchemeBlob
	}
	return SchemeGeneric
}

// Request describes one user-triggered download.
type Request struct {
	URL string
	// FilenameHint is a path or file name whose extension may be trusted.
	FilenameHint string
	// ContentDisposition is a raw Content-Disposition value, if one was seen.
	ContentDisposition string
	RetryCount         int
	MaxRetries         int
}

// NewRequest returns a request for rawURL with the default retry budget.
func NewRequest(rawURL string) Request {
	return Request{URL: rawURL, MaxRetries: DefaultMaxRetries}
}

// Scheme returns the scheme class of the request URL.
func (r Request) Scheme() SchemeClass {
	return Classify(r.URL)
}

// Result describes a finished download.
type Result struct {
	URL    string
	Scheme SchemeClass
	// Delegated is set for generic URLs, which the browser saves itself.
	Delegated bool
	// Cancelled is set when the user dismissed the save dialog.
	Cancelled bool
	Path      string
	Size      int64
	Extension string
	MIMEType  string
	Digest    webshell.Digest
	Attempts  int
}

// Bridge recovers and saves downloads.
type Bridge struct {
	saver    Saver
	notifier Notifier
	logger   *slog.Logger
	schedule PollSchedule
	sleep    SleepFunc
	delay    func(retryCount int) time.Duration
	newID    func() string
	namer    filetype.Namer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for the bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithNotifier sets where notifications are shown.
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) {
		b.notifier = n
	}
}

// WithPollSchedule overrides DefaultPollSchedule.
func WithPollSchedule(s PollSchedule) Option {
	return func(b *Bridge) {
		b.schedule = s
	}
}

// WithSleep replaces the function used to wait between polls and retries.
func WithSleep(fn SleepFunc) Option {
	return func(b *Bridge) {
		b.sleep = fn
	}
}

// WithRetryDelay replaces RetryDelay.
func WithRetryDelay(fn func(retryCount int) time.Duration) Option {
	return func(b *Bridge) {
		b.delay = fn
	}
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(fn func() string) Option {
	return func(b *Bridge) {
		b.newID = fn
	}
}

// WithAppName sets the prefix of synthesized file names.
func WithAppName(name string) Option {
	return func(b *Bridge) {
		b.namer.AppName = name
	}
}

// WithClock sets the time source used in synthesized file names.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.namer.Now = now
	}
}

// New creates a bridge that persists recovered content with saver.
func New(saver Saver, opts ...Option) *Bridge {
	b := &Bridge{
		saver:    saver,
		logger:   slog.Default(),
		schedule: DefaultPollSchedule,
		sleep:    sleepContext,
		delay:    RetryDelay,
		newID:    newRequestID,
		namer:    filetype.Namer{AppName: "download"},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.notifier == nil {
		b.notifier = LogNotifier{Logger: b.logger}
	}
	return b
}

// newRequestID returns a time-ordered id, so slot keys sort by creation.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Download runs req against page, retrying transient failures. page may be
// nil for generic URLs. The returned error is the terminal failure; the user
// has already been notified of it, with UserMessage(err) as the text.
func (b *Bridge) Download(ctx context.Context, page Page, req Request) (*Result, error) {
	scheme := req.Scheme()
	start := time.Now()
	logger := b.logger.With("url", redact(req.URL), "scheme", string(scheme))

	for {
		attempt := req.RetryCount + 1
		b.notifier.Notify(ctx, Notification{
			Level:   LevelInfo,
			Message: startMessage(req.RetryCount),
			URL:     req.URL,
			Attempt: attempt,
		})

		res, err := b.attempt(ctx, page, req)
		if err == nil {
			res.Attempts = attempt
			b.finish(ctx, req, res)
			telemetry.RecordDownload(ctx, string(scheme), outcomeOf(res), time.Since(start), res.Size)
			logger.Info("download finished",
				"path", res.Path,
				"delegated", res.Delegated,
				"cancelled", res.Cancelled,
				"size", res.Size,
				"digest", digestString(res.Digest),
				"attempts", attempt,
			)
			return res, nil
		}

		if req.RetryCount < req.MaxRetries && IsTransient(err) && ctx.Err() == nil {
			wait := b.delay(req.RetryCount)
			logger.Warn("download failed, retrying",
				"attempt", attempt,
				"retry_in", wait,
				"error", err,
			)
			telemetry.RecordRetry(ctx, string(scheme))
			if sleepErr := b.sleep(ctx, wait); sleepErr != nil {
				err = sleepErr
			} else {
				req.RetryCount++
				continue
			}
		}

		logger.Warn("download failed", "attempt", attempt, "error", err)
		b.notifier.Notify(ctx, Notification{
			Level:   LevelError,
			Message: UserMessage(err),
			URL:     req.URL,
			Attempt: attempt,
		})
		telemetry.RecordDownload(ctx, string(scheme), "error", time.Since(start), 0)
		return nil, err
	}
}

func (b *Bridge) attempt(ctx context.Context, page Page, req Request) (*Result, error) {
	if req.Scheme() == SchemeGeneric {
		return b.delegate(req)
	}

	blob, err := b.recoverBlob(ctx, page, req.URL)
	if err != nil {
		return nil, err
	}

	data, err := decodePayload(blob.Data)
	if err != nil {
		return nil, &RecoveryError{Reason: fmt.Sprintf("decoding payload: %v", err)}
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if blob.Size > 0 && blob.Size != int64(len(data)) {
		b.logger.Debug("blob size mismatch", "reported", blob.Size, "decoded", len(data))
	}

	typ := inferType(req, blob.Type, data)
	name := b.namer.Name()

	saved, err := b.saver.Save(ctx, name, data, typ.Extension, typ.MIMEType)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}

	return &Result{
		URL:       req.URL,
		Scheme:    SchemeBlob,
		Cancelled: saved == "",
		Path:      saved,
		Size:      int64(len(data)),
		Extension: typ.Extension,
		MIMEType:  typ.MIMEType,
		Digest:    webshell.HashBytes(data),
	}, nil
}

// delegate handles URLs the browser downloads through its own download
// machinery. The bridge only checks the URL is well formed.
func (b *Bridge) delegate(req Request) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invalid url %q: missing protocol scheme", req.URL)
	}
	b.logger.Debug("download handled by browser", "url", redact(req.URL))
	return &Result{URL: req.URL, Scheme: SchemeGeneric, Delegated: true}, nil
}

// recoverBlob drives the request, poll and cleanup exchange with the page.
func (b *Bridge) recoverBlob(ctx context.Context, page Page, blobURL string) (*BlobResult, error) {
	if page == nil {
		return nil, ErrMissingRuntimeHandle
	}

	requestID := b.newID()
	defer func() {
		// The slot is removed whatever happened, even if ctx is already done.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := page.ClearBlobResult(cleanupCtx, requestID); err != nil {
			b.logger.Debug("clearing blob result failed", "request_id", requestID, "error", err)
		}
	}()

	if err := page.StartBlobRecovery(ctx, requestID, blobURL); err != nil {
		return nil, fmt.Errorf("starting blob recovery: %w", err)
	}

	res, attempts, err := b.poll(ctx, page, requestID)
	telemetry.RecordBlobPoll(ctx, attempts, pollOutcome(res, err))
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RecoveryError{Reason: res.Error}
	}
	if res.Data == "" {
		return nil, ErrEmptyPayload
	}
	return res, nil
}

func (b *Bridge) finish(ctx context.Context, req Request, res *Result) {
	n := Notification{Level: LevelSuccess, URL: req.URL, Attempt: res.Attempts, Path: res.Path}
	switch {
	case res.Delegated:
		n.Message = "Download started by the browser."
	case res.Cancelled:
		n.Level = LevelInfo
		n.Message = "Download cancelled."
	default:
		n.Message = "File saved: " + res.Path
	}
	b.notifier.Notify(ctx, n)
}

// inferType resolves the saved type. The filename hint is used as given, so
// a bare name from the page is never trusted over the content. A
// Content-Disposition filename only fills in when neither the hint nor the
// magic bytes decided, ahead of the declared MIME type.
func inferType(req Request, mimeType string, data []byte) filetype.Type {
	typ := filetype.Infer(mimeType, data, strings.TrimSpace(req.FilenameHint))
	if typ.Source != filetype.SourceMIME && typ.Source != filetype.SourceDefault {
		return typ
	}
	ext, ok := dispositionExtension(req.ContentDisposition)
	if !ok {
		return typ
	}
	return filetype.Type{Extension: ext, MIMEType: filetype.MIMEForExtension(ext), Source: filetype.SourceHint}
}

func dispositionExtension(cd string) (string, bool) {
	if cd == "" {
		return "", false
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil || params["filename"] == "" {
		return "", false
	}
	// The header carries a bare name; only its extension is of interest.
	return filetype.ExtensionFromHint("/" + path.Base(params["filename"]))
}

func startMessage(retryCount int) string {
	if retryCount == 0 {
		return "Downloading file…"
	}
	return fmt.Sprintf("Retrying download (attempt %d)…", retryCount+1)
}

func outcomeOf(res *Result) string {
	switch {
	case res.Delegated:
		return "delegated"
	case res.Cancelled:
		return "cancelled"
	default:
		return "saved"
	}
}

func pollOutcome(res *BlobResult, err error) string {
	switch {
	case errors.Is(err, ErrBlobTimeout):
		return "timeout"
	case err != nil:
		return "error"
	case !res.Success:
		return "failed"
	default:
		return "success"
	}
}

func digestString(d webshell.Digest) string {
	if d.IsZero() {
		return ""
	}
	return d.ShortString()
}

// redact trims query strings from logged URLs and shortens data URLs.
func redact(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return raw
}
