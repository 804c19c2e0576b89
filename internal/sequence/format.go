package sequence

import (
	"fmt"
	"strconv"
)

// Identifier prefixes.
const (
	OrganizationPrefix = "ORG"
	UserPrefix         = "USER"
	CustomerPrefix     = "CUSTOMER"
)

// DefaultWidth is the zero padding applied when none is configured.
const DefaultWidth = 3

// Format renders prefix followed by n zero-padded to width digits. Values wider
// than width are printed in full, so ORG1000 follows ORG999.
func Format(prefix string, n int64, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

// Parse is the inverse of Format and returns the numeric part of id.
func Parse(prefix, id string) (int64, error) {
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return 0, fmt.Errorf("identifier %q does not start with %q", id, prefix)
	}
	n, err := strconv.ParseInt(id[len(prefix):], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identifier %q: %w", id, err)
	}
	return n, nil
}
