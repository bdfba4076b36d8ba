package webshell

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotBlobURL is returned when a URL does not use the blob scheme.
var ErrNotBlobURL = errors.New("not a blob url")

const blobScheme = "blob"

// BlobURL is a reference to in-memory data created by a page script. It is
// only resolvable inside the document that created it.
type BlobURL struct {
	raw    string
	Origin string
	ID     string
}

// IsBlobURL reports whether raw uses the blob scheme. The check is case-insensitive.
func IsBlobURL(raw string) bool {
	scheme, _, ok := strings.Cut(strings.TrimSpace(raw), ":")
	return ok && strings.EqualFold(scheme, blobScheme)
}

// ParseBlobURL parses a URL of the form "blob:<origin>/<id>".
// Opaque blob URLs without an origin ("blob:null/<id>", "blob:<id>") are accepted
// with an empty or "null" origin.
func ParseBlobURL(raw string) (BlobURL, error) {
	raw = strings.TrimSpace(raw)
	if !IsBlobURL(raw) {
		return BlobURL{}, fmt.Errorf("%w: %q", ErrNotBlobURL, raw)
	}

	_, rest, _ := strings.Cut(raw, ":")
	if rest == "" {
		return BlobURL{}, fmt.Errorf("empty blob url %q", raw)
	}

	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return BlobURL{raw: raw, ID: rest}, nil
	}

	origin, id := rest[:idx], rest[idx+1:]
	if id == "" {
		return BlobURL{}, fmt.Errorf("blob url %q has no id", raw)
	}
	if origin != "null" {
		u, err := url.Parse(origin)
		if err != nil {
			return BlobURL{}, fmt.Errorf("invalid origin in blob url %q: %w", raw, err)
		}
		origin = u.Scheme + "://" + u.Host
	}

	return BlobURL{raw: raw, Origin: origin, ID: id}, nil
}

// String returns the URL exactly as it was parsed. The page keys its caches
// by this string.
func (b BlobURL) String() string {
	return b.raw
}
