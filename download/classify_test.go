package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, SchemeBlob, Classify("blob:https://a.example/1"))
	require.Equal(t, SchemeBlob, Classify("BLOB:null/1"))
	require.Equal(t, SchemeGeneric, Classify("https://a.example/f.pdf"))
	require.Equal(t, SchemeGeneric, Classify("data:text/plain,hi"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"blob timeout", ErrBlobTimeout, true},
		{"wrapped blob timeout", fmt.Errorf("recovering: %w", ErrBlobTimeout), true},
		{"timeout text", errors.New("Request Timeout"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"failed to fetch", &RecoveryError{Reason: "TypeError: Failed to fetch"}, true},
		{"server error", errors.New("HTTP 503 Service Unavailable"), true},
		{"permission", errors.New("open x: permission denied"), false},
		{"not found", errors.New("HTTP 404"), false},
		{"status code", errors.New("upstream response code: 502"), true},
		{"parenthesised status", errors.New("fetch rejected (504)"), true},
		{"digits in file name", &PersistenceError{Err: errors.New("open /sdcard/Download/Notes_500.pdf: permission denied")}, false},
		{"digits in byte count", errors.New("short write after 503 bytes"), false},
		{"missing handle", ErrMissingRuntimeHandle, false},
		{"empty payload", ErrEmptyPayload, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryDelay(t *testing.T) {
	require.Equal(t, 2*time.Second, RetryDelay(0))
	require.Equal(t, 4*time.Second, RetryDelay(1))
	require.Equal(t, 6*time.Second, RetryDelay(2))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"missing handle", ErrMissingRuntimeHandle, MsgMissingRuntime},
		{"blob timeout", ErrBlobTimeout, MsgTimeout},
		{"deadline", context.DeadlineExceeded, MsgTimeout},
		{"empty payload", ErrEmptyPayload, MsgEmptyPayload},
		{"recovery", &RecoveryError{Reason: "boom"}, MsgRecoveryPrefix + "boom"},
		{"recovery no reason", &RecoveryError{}, MsgRecoveryPrefix + "unknown error"},
		{"dns", errors.New("dial tcp: lookup files.example: no such host"), MsgHostUnreachable},
		{"timeout text", errors.New("i/o timeout"), MsgTimeout},
		{"bad scheme", errors.New(`unsupported protocol scheme "ftpx"`), MsgInvalidURL},
		{"fetch", errors.New("TypeError: Failed to fetch"), MsgFetchFailed},
		{"404", errors.New("status 404"), MsgNotFound},
		{"403", errors.New("status 403"), MsgForbidden},
		{"502", errors.New("status 502"), MsgServerError},
		{"permission", &PersistenceError{Err: errors.New("permission denied")}, MsgPermission},
		{"permission with status-like name", &PersistenceError{Err: errors.New("open /sdcard/Download/Notes_500.pdf: permission denied")}, MsgPermission},
		{"404 in path only", errors.New("open /tmp/404/report.pdf: disk full"), MsgGenericPrefix + "open /tmp/404/report.pdf: disk full"},
		{"recovery timeout reason", &RecoveryError{Reason: "timeout of 10000ms exceeded"}, MsgTimeout},
		{"recovery host reason", &RecoveryError{Reason: "net::ERR_NAME_NOT_RESOLVED name not resolved"}, MsgHostUnreachable},
		{"other", errors.New("disk quota exceeded"), MsgGenericPrefix + "disk quota exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestUserMessageTruncatesDetail(t *testing.T) {
	msg := UserMessage(errors.New(strings.Repeat("x", 150)))
	require.Equal(t, MsgGenericPrefix+strings.Repeat("x", 100)+"…", msg)
}

func TestPollScheduleBudget(t *testing.T) {
	s := DefaultPollSchedule
	require.Equal(t, 500*time.Millisecond, s.Interval(0))
	require.Equal(t, 500*time.Millisecond, s.Interval(5))
	require.Equal(t, time.Second, s.Interval(6))
	require.Equal(t, 17*time.Second, s.Budget())
}

func TestSleepContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"padded", "aGVsbG8=", "hello"},
		{"raw", "aGVsbG8", "hello"},
		{"data url", "data:text/plain;base64,aGVsbG8=", "hello"},
		{"url safe", "-_8", "\xfb\xff"},
		{"whitespace", "  aGk=\n", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(got))
		})
	}

	_, err := decodePayload("ab+-")
	require.Error(t, err)
}

func TestNotifiers(t *testing.T) {
	var got []Level
	n := MultiNotifier{
		NotifierFunc(func(_ context.Context, n Notification) { got = append(got, n.Level) }),
		LogNotifier{},
	}
	n.Notify(context.Background(), Notification{Level: LevelSuccess, Message: "ok"})
	require.Equal(t, []Level{LevelSuccess}, got)
}
