package download

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// transientSignatures mark errors worth one more attempt. Matching is on
// lowercased error text because page and transport errors arrive as strings.
var transientSignatures = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"network is unreachable",
	"network unreachable",
	"socket",
	"handshake",
	"failed to fetch",
	"fetch failed",
}

// transientStatuses are HTTP statuses worth one more attempt.
var transientStatuses = []string{"500", "502", "503", "504"}

// statusPattern finds status-shaped numbers ("HTTP 503", "status: 404",
// "(502)") so that digits in file names or byte counts are not read as
// HTTP statuses. Upstream text that reports a status some other way is
// not classified by status.
var statusPattern = regexp.MustCompile(`(?:\bhttp(?:/[0-9.]+)?|\bstatus(?: code)?|\bcode|\bresponse)[\s:=#]*([1-5][0-9]{2})\b|\(([1-5][0-9]{2})\)`)

// hasStatus reports whether text carries one of codes in a status-shaped
// position. text must already be lowercased.
func hasStatus(text string, codes ...string) bool {
	for _, m := range statusPattern.FindAllStringSubmatch(text, -1) {
		found := m[1]
		if found == "" {
			found = m[2]
		}
		for _, code := range codes {
			if found == code {
				return true
			}
		}
	}
	return false
}

// IsTransient reports whether err is likely to succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrBlobTimeout) {
		return true
	}
	if errors.Is(err, ErrMissingRuntimeHandle) || errors.Is(err, ErrEmptyPayload) {
		return false
	}
	text := strings.ToLower(err.Error())
	return containsAny(text, transientSignatures...) || hasStatus(text, transientStatuses...)
}

// RetryDelay returns the wait before retrying a download that has already
// been retried retryCount times.
func RetryDelay(retryCount int) time.Duration {
	return time.Duration(retryCount+1) * 2 * time.Second
}

// Messages shown to the user for terminal failures.
const (
	MsgHostUnreachable = "Cannot reach the server. Check your internet connection and try again."
	MsgTimeout         = "The download took too long. Please try again."
	MsgInvalidURL      = "The download link is not valid."
	MsgMissingRuntime  = "The page is not ready to download files. Reload it and try again."
	MsgRecoveryPrefix  = "The file could not be read from the page: "
	MsgEmptyPayload    = "The file is empty and was not saved."
	MsgFetchFailed     = "The file could not be fetched."
	MsgNotFound        = "The file was not found (404)."
	MsgForbidden       = "Access to the file was denied (403)."
	MsgServerError     = "The server could not provide the file right now. Please try again later."
	MsgPermission      = "Storage permission was denied. Allow file access to save downloads."
	MsgGenericPrefix   = "Download failed: "

	maxGenericDetail = 100
)

// UserMessage maps a terminal failure to a short message for the user.
// Host and timeout signatures win over everything else, including a
// recovery failure whose reason names one of them.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ToLower(err.Error())
	switch {
	case containsAny(text, "no such host", "host lookup", "host unreachable", "no route to host", "name not resolved"):
		return MsgHostUnreachable
	case errors.Is(err, ErrBlobTimeout), errors.Is(err, context.DeadlineExceeded),
		containsAny(text, "timeout", "timed out"):
		return MsgTimeout
	}

	var recovery *RecoveryError
	switch {
	case errors.Is(err, ErrMissingRuntimeHandle):
		return MsgMissingRuntime
	case errors.Is(err, ErrEmptyPayload):
		return MsgEmptyPayload
	case errors.As(err, &recovery):
		reason := recovery.Reason
		if reason == "" {
			reason = "unknown error"
		}
		return MsgRecoveryPrefix + truncate(reason, maxGenericDetail)
	}

	switch {
	case containsAny(text, "invalid url", "invalid uri", "unsupported protocol scheme", "missing protocol scheme"):
		return MsgInvalidURL
	case containsAny(text, "missing runtime handle"):
		return MsgMissingRuntime
	case containsAny(text, "blob recovery failed"):
		return MsgRecoveryPrefix + truncate(err.Error(), maxGenericDetail)
	case containsAny(text, "failed to fetch", "fetch failed"):
		return MsgFetchFailed
	case hasStatus(text, "404"):
		return MsgNotFound
	case hasStatus(text, "403"):
		return MsgForbidden
	case hasStatus(text, transientStatuses...):
		return MsgServerError
	case containsAny(text, "permission denied", "operation not permitted", "access is denied"):
		return MsgPermission
	}
	return MsgGenericPrefix + truncate(err.Error(), maxGenericDetail)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
