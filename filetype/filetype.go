// Package filetype infers a file extension and MIME type for downloaded
// content. Signals are consulted in a fixed order: a path hint, then the
// content's magic bytes, then the declared MIME type, then a binary default.
package filetype

import (
	"mime"
	"strings"
)

// DefaultExtension is used when no signal identifies the content.
const DefaultExtension = "bin"

const maxHintExtension = 4

// Type is the outcome of inference.
type Type struct {
	Extension string
	MIMEType  string
	// Source records which signal decided the extension.
	Source Source
}

// Source identifies the signal that produced a Type.
type Source string

const (
	SourceHint    Source = "hint"
	SourceContent Source = "content"
	SourceMIME    Source = "mime"
	SourceDefault Source = "default"
)

// Infer resolves the type of data. mimeType and hint may be empty.
func Infer(mimeType string, data []byte, hint string) Type {
	declared := normalizeMIME(mimeType)

	if ext, ok := ExtensionFromHint(hint); ok {
		return Type{Extension: ext, MIMEType: mimeFor(ext, declared), Source: SourceHint}
	}
	if ext, ok := Sniff(data, declared); ok {
		return Type{Extension: ext, MIMEType: mimeFor(ext, declared), Source: SourceContent}
	}
	if declared != "" {
		ext := ExtensionForMIME(declared)
		src := SourceMIME
		if ext == DefaultExtension {
			src = SourceDefault
		}
		return Type{Extension: ext, MIMEType: declared, Source: src}
	}
	return Type{Extension: DefaultExtension, MIMEType: octetStream, Source: SourceDefault}
}

// ExtensionFromHint returns the lowercased extension of the final segment of
// a path-like hint. The hint must contain a "/" and the extension must be at
// most four characters.
func ExtensionFromHint(hint string) (string, bool) {
	if hint == "" {
		return "", false
	}
	// Drop query and fragment so "/a/report.csv?x=1" still resolves.
	if i := strings.IndexAny(hint, "?#"); i >= 0 {
		hint = hint[:i]
	}
	slash := strings.LastIndex(hint, "/")
	if slash < 0 {
		return "", false
	}
	segment := hint[slash+1:]
	dot := strings.LastIndex(segment, ".")
	if dot < 0 {
		return "", false
	}
	ext := segment[dot+1:]
	if ext == "" || len(ext) > maxHintExtension || !isAlnum(ext) {
		return "", false
	}
	return strings.ToLower(ext), true
}

// ExtensionForMIME maps a MIME type to an extension. Unknown image, audio,
// video and text types fall back to a per-category extension; anything else
// is DefaultExtension.
func ExtensionForMIME(mimeType string) string {
	m := normalizeMIME(mimeType)
	if ext, ok := mimeToExt[m]; ok {
		return ext
	}
	category, _, _ := strings.Cut(m, "/")
	if ext, ok := categoryFallback[category]; ok {
		return ext
	}
	return DefaultExtension
}

// MIMEForExtension returns the canonical MIME type for ext, or
// application/octet-stream when unknown.
func MIMEForExtension(ext string) string {
	if m, ok := extToMIME[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return m
	}
	return octetStream
}

func mimeFor(ext, declared string) string {
	if declared != "" && declared != octetStream && ExtensionForMIME(declared) == ext {
		return declared
	}
	return MIMEForExtension(ext)
}

func normalizeMIME(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
