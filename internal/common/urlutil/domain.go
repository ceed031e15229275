// Package urlutil provides host and domain helpers shared by the
// developer-domain extractor and the pipeline.
package urlutil

import (
	"net/url"
	"strings"
)

// ExtractHost extracts and lowercases the host from a URL string.
// Returns empty string if URL is invalid or has no host.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// StripPort removes the port from a host string if present.
// Handles bracketed IPv6 literals without mangling them.
func StripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if bracketIdx := strings.Index(host, "]"); bracketIdx != -1 {
			return host[:bracketIdx+1]
		}
		return host
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}

// NormalizeDomain reduces a URL or bare hostname to a registrable
// developer domain: scheme and path stripped, leading "www." removed,
// lowercased, no port. Returns empty string when no usable host remains.
func NormalizeDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	// Non-web schemes (mailto:, javascript:, tel:) never carry a domain
	lower := strings.ToLower(raw)
	for _, scheme := range []string{"mailto:", "javascript:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}

	host := ExtractHost(raw)
	if host == "" {
		// Bare hostname without scheme, e.g. "www.example.com/path"
		candidate := raw
		if idx := strings.IndexAny(candidate, "/?#"); idx != -1 {
			candidate = candidate[:idx]
		}
		host = strings.ToLower(strings.TrimSpace(candidate))
	}

	host = StripPort(host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ".")

	if !IsValidDomain(host) {
		return ""
	}
	return host
}

// IsValidDomain reports whether s looks like a registrable hostname:
// dot-separated labels, a TLD of at least 2 characters, no spaces.
func IsValidDomain(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !isDomainRune(r) {
				return false
			}
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	// TLDs are alphabetic (IDN punycode starts with xn--)
	for _, r := range tld {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

func isDomainRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-':
		return true
	default:
		return false
	}
}
