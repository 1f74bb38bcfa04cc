package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseProtocolVersion splits a "major.minor" protocol version.
// A bare major version is accepted with minor 0.
func ParseProtocolVersion(version string) (int, int, error) {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return 0, 0, fmt.Errorf("invalid protocol version %q", version)
	}
	majorRaw, minorRaw, hasMinor := strings.Cut(trimmed, ".")
	major, err := strconv.Atoi(majorRaw)
	if err != nil || major <= 0 {
		return 0, 0, fmt.Errorf("invalid protocol version %q", version)
	}
	if !hasMinor {
		return major, 0, nil
	}
	minor, err := strconv.Atoi(minorRaw)
	if err != nil || minor < 0 {
		return 0, 0, fmt.Errorf("invalid protocol version %q", version)
	}
	return major, minor, nil
}

// ValidateSessionID ensures a session id is non-empty and free of whitespace.
func ValidateSessionID(id SessionID) error {
	raw := string(id)
	if raw == "" || strings.TrimSpace(raw) != raw {
		return ErrInvalidRequest
	}
	for _, r := range raw {
		if r <= ' ' || r == '/' || r == '\\' {
			return ErrInvalidRequest
		}
	}
	return nil
}
