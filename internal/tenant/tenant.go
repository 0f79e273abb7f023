// Package tenant validates tenant identifiers before any filesystem path is
// derived from them. Rejection here is a security boundary: a traversal
// sequence that slips through would let one company's data land in (or read
// from) another's directory.
package tenant

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidID reports a tenant identifier that failed validation.
type ErrInvalidID struct {
	ID     string
	Reason string
}

func (e *ErrInvalidID) Error() string {
	return fmt.Sprintf("invalid tenant id %q: %s", e.ID, e.Reason)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID checks a tenant identifier against the allowed character set and
// rejects anything that could influence path construction. It must be called
// before the identifier touches filepath.Join.
func ValidateID(id string) error {
	if id == "" {
		return &ErrInvalidID{ID: id, Reason: "empty"}
	}
	if strings.Contains(id, "..") {
		return &ErrInvalidID{ID: id, Reason: "path traversal sequence"}
	}
	if strings.HasPrefix(id, "/") || strings.HasPrefix(id, "\\") || strings.Contains(id, ":") {
		return &ErrInvalidID{ID: id, Reason: "absolute path marker"}
	}
	if !idPattern.MatchString(id) {
		return &ErrInvalidID{ID: id, Reason: "must match [A-Za-z0-9_-]+"}
	}
	return nil
}

// Sanitize maps an arbitrary display name onto a valid tenant id by replacing
// disallowed runes with underscores. Returns an error when nothing usable
// remains.
func Sanitize(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	id := strings.Trim(b.String(), "_")
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}
