package download

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRuntimeHandle is returned when a blob download is requested
	// without a live page to recover it from.
	ErrMissingRuntimeHandle = errors.New("missing runtime handle: page is not available")

	// ErrBlobTimeout is returned when the page never answered a recovery request.
	ErrBlobTimeout = errors.New("blob download timeout: no result from page")

	// ErrEmptyPayload is returned when the page reported success without data.
	ErrEmptyPayload = errors.New("blob download returned empty payload")
)

// RecoveryError reports that the page tried to recover a blob and failed.
type RecoveryError struct {
	Reason string
}

func (e *RecoveryError) Error() string {
	if e.Reason == "" {
		return "blob recovery failed"
	}
	return "blob recovery failed: " + e.Reason
}

// PersistenceError wraps a failure of the Saver.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saving download: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
