// Package store maps bundle identifiers to their app store and builds the
// canonical store-listing URL for scraping.
package store

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/adscout/engine/pkg/types"
)

// Detection patterns, checked in order; the first match wins.
// Amazon ASINs and Samsung Galaxy Store IDs are checked before the numeric
// App Store rule so their letter prefixes are not swallowed by it.
var (
	amazonPattern      = regexp.MustCompile(`^[bB][0-9A-Za-z]{9,10}$`)
	samsungPattern     = regexp.MustCompile(`^[gG]\d{8,15}$`)
	appStorePattern    = regexp.MustCompile(`^(id)?\d{8,12}$`)
	googlePlayPattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)
	rokuNumericPattern = regexp.MustCompile(`^\d{4,6}$`)
	rokuHashPattern    = regexp.MustCompile(`(?i)^[a-f0-9]{32}:[a-f0-9]{32}$`)
	rokuAlnumPattern   = regexp.MustCompile(`^[a-zA-Z0-9]{4,}$`)
)

// Classification is the outcome of classifying one bundle identifier.
// StoreURL is empty when the kind does not support listing extraction.
type Classification struct {
	BundleID string
	Kind     types.StoreKind
	StoreURL string
}

// Classify maps a bundle identifier to its store kind and listing URL.
// Deterministic and side-effect-free; the input is trimmed first.
func Classify(bundleID string) Classification {
	id := strings.TrimSpace(bundleID)

	kind := detectKind(id)

	c := Classification{BundleID: id, Kind: kind}
	if kind.SupportsExtraction() {
		c.StoreURL = listingURL(kind, id)
	}
	return c
}

func detectKind(id string) types.StoreKind {
	switch {
	case id == "":
		return types.StoreUnknown
	case amazonPattern.MatchString(id):
		return types.StoreAmazon
	case samsungPattern.MatchString(id):
		return types.StoreSamsung
	case appStorePattern.MatchString(id):
		return types.StoreAppStore
	case googlePlayPattern.MatchString(id):
		return types.StoreGooglePlay
	case rokuNumericPattern.MatchString(id):
		return types.StoreRokuNumeric
	case rokuHashPattern.MatchString(id):
		return types.StoreRoku
	case rokuAlnumPattern.MatchString(id) && !strings.Contains(id, "."):
		return types.StoreRoku
	default:
		return types.StoreUnknown
	}
}

// listingURL builds the canonical store-listing URL for a supported kind.
func listingURL(kind types.StoreKind, id string) string {
	switch kind {
	case types.StoreGooglePlay:
		return "https://play.google.com/store/apps/details?id=" + url.QueryEscape(id)
	case types.StoreAppStore:
		// Apple listing slugs require the "id" prefix on bare numeric IDs
		slug := id
		if !strings.HasPrefix(slug, "id") {
			slug = "id" + slug
		}
		return "https://apps.apple.com/us/app/" + url.PathEscape(slug)
	case types.StoreAmazon:
		return "https://www.amazon.com/dp/" + url.PathEscape(id)
	case types.StoreRoku:
		return "https://channelstore.roku.com/details/" + url.PathEscape(id)
	case types.StoreSamsung:
		return "https://www.samsung.com/us/appstore/app/" + url.PathEscape(id)
	default:
		return ""
	}
}
