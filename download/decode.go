package download

import (
	"encoding/base64"
	"errors"
	"strings"
)

// decodePayload decodes the base64 payload a page returned. Data URL prefixes
// are stripped and the encoding variant (standard or URL-safe, padded or raw)
// is detected from the input.
func decodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, rest, ok := strings.Cut(s, ","); ok {
			s = rest
		}
	}

	isURLSafe := strings.ContainsAny(s, "-_")
	isStandard := strings.ContainsAny(s, "+/")
	isPadded := strings.HasSuffix(s, "=")

	if isURLSafe && isStandard {
		return nil, errors.New("ambiguous base64: contains both standard and url-safe characters")
	}

	switch {
	case isURLSafe && isPadded:
		return base64.URLEncoding.DecodeString(s)
	case isURLSafe:
		return base64.RawURLEncoding.DecodeString(s)
	case isPadded:
		return base64.StdEncoding.DecodeString(s)
	default:
		return base64.RawStdEncoding.DecodeString(s)
	}
}
