// Package extract scrapes a developer web domain out of a store-listing
// HTML page. Each store kind has an ordered heuristic list; the first
// candidate that survives domain normalization wins.
package extract

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/adscout/engine/internal/common/urlutil"
	"github.com/adscout/engine/pkg/types"
)

// ErrDomainNotFound is returned when no heuristic yields a usable domain.
var ErrDomainNotFound = errors.New("developer domain not found")

// storeFrontSuffixes names the store platforms themselves. A candidate
// resolving to one of these is a link back into the store, not the
// developer's site, so the next heuristic gets a chance.
var storeFrontSuffixes = []string{
	"play.google.com",
	"google.com",
	"apps.apple.com",
	"apple.com",
	"amazon.com",
	"roku.com",
	"samsung.com",
}

var visitStorePattern = regexp.MustCompile(`(?i)^visit the .+ store$`)

// heuristic returns candidate URLs or bare domains in document order.
type heuristic func(doc *document) []string

var heuristicsByKind = map[types.StoreKind][]heuristic{
	types.StoreGooglePlay: {
		metaDeveloperURL,
		anchorsWithHrefSubstring("/store/apps/dev?id=", "/store/apps/developer?id="),
		anchorsLabeled(func(text string) bool { return strings.EqualFold(text, "visit website") }),
	},
	types.StoreAppStore: {
		anchorsWithClassTokens("icon-after", "icon-external"),
		anchorsWithHrefSubstring("/developer/"),
	},
	types.StoreAmazon: {
		anchorsWithHrefSubstring("/developer/"),
		anchorsLabeled(visitStorePattern.MatchString),
	},
	types.StoreRoku: {
		metaDeveloperURL,
		anchorsWithHrefSubstring("/developer/", "/browse/developer/"),
		anchorsLabeled(func(text string) bool {
			return len(text) > len("more by") && strings.EqualFold(text[:len("more by")], "more by")
		}),
	},
	types.StoreSamsung: {
		metaDeveloperURL,
		anchorsWithHrefSubstring("/developer/", "/sellerDetail"),
		anchorsLabeled(func(text string) bool { return strings.EqualFold(text, "more from developer") }),
		definitionBlock("Developer"),
	},
}

// DeveloperDomain extracts the developer domain from a store-listing
// page. The result is a normalized hostname: lowercase, no scheme, no
// leading www., no path.
func DeveloperDomain(body string, kind types.StoreKind) (string, error) {
	heuristics, ok := heuristicsByKind[kind]
	if !ok {
		return "", ErrDomainNotFound
	}

	doc, err := parseDocument(body)
	if err != nil {
		return "", ErrDomainNotFound
	}

	for _, h := range heuristics {
		for _, candidate := range h(doc) {
			if domain := normalizeCandidate(candidate); domain != "" {
				return domain, nil
			}
		}
	}
	return "", ErrDomainNotFound
}

// normalizeCandidate turns a raw href or text value into a validated
// developer domain, or "" when it is unusable. Store redirect wrappers
// are unwrapped first.
func normalizeCandidate(candidate string) string {
	candidate = unwrapRedirect(strings.TrimSpace(candidate))
	if candidate == "" {
		return ""
	}

	domain := urlutil.NormalizeDomain(candidate)
	if domain == "" || isStoreFront(domain) {
		return ""
	}
	return domain
}

// unwrapRedirect resolves Google's outbound link wrapper
// (google.com/url?q=https://example.com) to its target.
func unwrapRedirect(rawURL string) string {
	if !strings.Contains(rawURL, "google.com/url") {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if target := parsed.Query().Get("q"); target != "" {
		return target
	}
	if target := parsed.Query().Get("url"); target != "" {
		return target
	}
	return rawURL
}

func isStoreFront(domain string) bool {
	for _, suffix := range storeFrontSuffixes {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}

func metaDeveloperURL(doc *document) []string {
	if content := doc.metaContent("appstore:developer_url"); content != "" {
		return []string{content}
	}
	return nil
}

func anchorsWithHrefSubstring(substrings ...string) heuristic {
	return func(doc *document) []string {
		var candidates []string
		for _, a := range doc.anchors {
			for _, sub := range substrings {
				if strings.Contains(a.Href, sub) {
					candidates = append(candidates, a.Href)
					break
				}
			}
		}
		return candidates
	}
}

func anchorsWithClassTokens(tokens ...string) heuristic {
	return func(doc *document) []string {
		var candidates []string
		for _, a := range doc.anchors {
			classes := strings.Fields(a.Class)
			if containsAll(classes, tokens) && a.Href != "" {
				candidates = append(candidates, a.Href)
			}
		}
		return candidates
	}
}

func anchorsLabeled(match func(text string) bool) heuristic {
	return func(doc *document) []string {
		var candidates []string
		for _, a := range doc.anchors {
			if a.Href != "" && match(a.Text) {
				candidates = append(candidates, a.Href)
			}
		}
		return candidates
	}
}

func definitionBlock(label string) heuristic {
	return func(doc *document) []string {
		return doc.definitionValues(label)
	}
}

func containsAll(haystack, needles []string) bool {
	for _, needle := range needles {
		found := false
		for _, have := range haystack {
			if have == needle {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
