package webshell

import (
	"fmt"
	"strings"
)

// Platform identifies the mobile platform the shell presents itself as.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// ParsePlatform parses a platform name. The name is case-insensitive.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformAndroid:
		return PlatformAndroid, nil
	case PlatformIOS:
		return PlatformIOS, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", s)
	}
}

func (p Platform) String() string {
	return string(p)
}
