package download

import "context"

// BlobResult is the outcome the page writes into its result slot for one
// recovery request.
type BlobResult struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Type    string `json:"type,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Page is a live handle into the page's script runtime. The bridge talks to
// it through a request slot keyed by a request id: start the recovery, poll
// the slot, then clear it.
type Page interface {
	// StartBlobRecovery asks the page to resolve the bytes behind blobURL and
	// write the outcome into the slot for requestID.
	StartBlobRecovery(ctx context.Context, requestID, blobURL string) error

	// BlobResult returns the slot for requestID, or nil when the page has not
	// written it yet.
	BlobResult(ctx context.Context, requestID string) (*BlobResult, error)

	// ClearBlobResult removes the slot for requestID. Clearing a missing slot
	// is not an error.
	ClearBlobResult(ctx context.Context, requestID string) error
}

// Saver persists recovered content. It is usually backed by a platform save
// dialog and may block on user interaction.
type Saver interface {
	// Save stores data as name.ext and returns where it was saved. An empty
	// path with a nil error means the user cancelled.
	Save(ctx context.Context, name string, data []byte, ext, mimeType string) (string, error)
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context, name string, data []byte, ext, mimeType string) (string, error)

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, name string, data []byte, ext, mimeType string) (string, error) {
	return f(ctx, name, data, ext, mimeType)
}
