package server

import (
	"sync"
	"time"

	"github.com/wolfeidau/webshell/download"
)

// DefaultHistorySize is the number of downloads History keeps.
const DefaultHistorySize = 50

// Record is one finished download as reported by the ops API.
type Record struct {
	URL       string    `json:"url"`
	Outcome   string    `json:"outcome"`
	Path      string    `json:"path,omitempty"`
	Extension string    `json:"extension,omitempty"`
	MIMEType  string    `json:"mime_type,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// History is a bounded in-memory list of recent downloads, newest last.
// It is lost when the process exits.
type History struct {
	mu      sync.Mutex
	size    int
	records []Record
	now     func() time.Time
}

// NewHistory keeps the last size downloads. A non-positive size selects
// DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, now: time.Now}
}

// Add records the outcome of req.
func (h *History) Add(req download.Request, res *download.Result, err error) {
	rec := Record{URL: req.URL, At: h.now()}
	switch {
	case err != nil:
		rec.Outcome = "error"
		rec.Error = err.Error()
		rec.Message = download.UserMessage(err)
	case res.Delegated:
		rec.Outcome = "delegated"
	case res.Cancelled:
		rec.Outcome = "cancelled"
	default:
		rec.Outcome = "saved"
		rec.Path = res.Path
		rec.Extension = res.Extension
		rec.MIMEType = res.MIMEType
		rec.Size = res.Size
		rec.Digest = res.Digest.String()
	}
	if res != nil {
		rec.Attempts = res.Attempts
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if over := len(h.records) - h.size; over > 0 {
		h.records = append(h.records[:0:0], h.records[over:]...)
	}
}

// Records returns a copy of the recorded downloads, oldest first.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}
