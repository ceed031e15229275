// Package requestid generates unique request identifiers, optionally
// derived from a client-supplied ID for cross-service tracing.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxRequestIDLength is the maximum total length (same as UUID: 36 chars)
	MaxRequestIDLength = 36
	// PrefixLength is the length of the random prefix
	PrefixLength = 5
	// MaxCustomIDLength is the max length for the sanitized custom portion
	MaxCustomIDLength = MaxRequestIDLength - PrefixLength - 1
)

var (
	sanitizeRegex           = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// Generate creates a unique request ID from an optional custom ID.
// A provided custom ID is sanitized (keeping only [a-zA-Z0-9-]) and prefixed
// with 5 random alphanumeric characters for uniqueness:
// {5-random-chars}-{sanitized-custom-id}. If the custom ID is empty or
// becomes empty after sanitization, a UUID is used instead. The total
// length is capped at 36 characters.
func Generate(customID string) string {
	sanitized := strings.ReplaceAll(customID, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.TrimPrefix(sanitized, "-")
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	prefix := generateRandomPrefix()

	if len(sanitized) > MaxCustomIDLength {
		sanitized = sanitized[:MaxCustomIDLength]
	}

	return prefix + "-" + sanitized
}

// generateRandomPrefix returns PrefixLength random hex characters.
func generateRandomPrefix() string {
	buf := make([]byte, (PrefixLength+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a UUID fragment if the system RNG is unavailable
		return uuid.New().String()[:PrefixLength]
	}
	return hex.EncodeToString(buf)[:PrefixLength]
}
