// Package types holds the shared domain types exchanged between the
// extraction pipeline components and serialized at the API boundary.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StoreKind identifies the app store a bundle identifier belongs to.
type StoreKind string

const (
	StoreGooglePlay  StoreKind = "googleplay"
	StoreAppStore    StoreKind = "appstore"
	StoreAmazon      StoreKind = "amazon"
	StoreRoku        StoreKind = "roku"
	StoreRokuNumeric StoreKind = "roku-numeric"
	StoreSamsung     StoreKind = "samsung"
	StoreUnknown     StoreKind = "unknown"
)

// SupportsExtraction reports whether listings of this store kind can be
// scraped for a developer domain. Roku numeric channel IDs resolve to a
// legacy store UI without developer links, so they are rejected up front.
func (k StoreKind) SupportsExtraction() bool {
	switch k {
	case StoreGooglePlay, StoreAppStore, StoreAmazon, StoreRoku, StoreSamsung:
		return true
	default:
		return false
	}
}

// Error kinds attached to failed bundle results.
const (
	ErrKindUnsupportedBundle = "unsupported_bundle"
	ErrKindFetchError        = "fetch_error"
	ErrKindDomainNotFound    = "domain_not_found"
	ErrKindWorkerTimeout     = "worker_timeout"
	ErrKindWorkerMemory      = "worker_memory_exceeded"
	ErrKindInternal          = "internal"
)

// RelationshipCounts breaks valid app-ads.txt lines down by the declared
// seller relationship (third field).
type RelationshipCounts struct {
	Direct   int `json:"direct"`
	Reseller int `json:"reseller"`
	Other    int `json:"other"`
}

// AnalyzedAppAds summarizes a parsed app-ads.txt document.
// Invariant: ValidLines + CommentLines + EmptyLines + InvalidLines == TotalLines.
type AnalyzedAppAds struct {
	TotalLines       int                `json:"totalLines"`
	ValidLines       int                `json:"validLines"`
	CommentLines     int                `json:"commentLines"`
	EmptyLines       int                `json:"emptyLines"`
	InvalidLines     int                `json:"invalidLines"`
	UniquePublishers int                `json:"uniquePublishers"`
	Relationships    RelationshipCounts `json:"relationships"`
}

// StructuredTerm is a field-wise search criterion. Empty fields are
// wildcards; an all-empty term is invalid and rejected at the boundary.
type StructuredTerm struct {
	Domain       string `json:"domain,omitempty"`
	PublisherID  string `json:"publisherId,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	TagID        string `json:"tagId,omitempty"`
}

// IsEmpty reports whether no field is set.
func (t *StructuredTerm) IsEmpty() bool {
	return t.Domain == "" && t.PublisherID == "" && t.Relationship == "" && t.TagID == ""
}

// Label renders the term for display in search results.
func (t *StructuredTerm) Label() string {
	parts := make([]string, 0, 4)
	if t.Domain != "" {
		parts = append(parts, "domain="+t.Domain)
	}
	if t.PublisherID != "" {
		parts = append(parts, "publisherId="+t.PublisherID)
	}
	if t.Relationship != "" {
		parts = append(parts, "relationship="+t.Relationship)
	}
	if t.TagID != "" {
		parts = append(parts, "tagId="+t.TagID)
	}
	return strings.Join(parts, ",")
}

// SearchTerm is a tagged union: either a free-text substring query or a
// structured field query. Exactly one of Text/Structured is set.
type SearchTerm struct {
	Text       string
	Structured *StructuredTerm
}

// IsStructured reports whether the term carries structured fields.
func (s *SearchTerm) IsStructured() bool {
	return s.Structured != nil
}

// Label renders the term for display.
func (s *SearchTerm) Label() string {
	if s.Structured != nil {
		return s.Structured.Label()
	}
	return s.Text
}

// UnmarshalJSON accepts either a JSON string (free text) or an object
// (structured term). An empty object or empty string is an error.
func (s *SearchTerm) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return fmt.Errorf("search term must not be empty")
		}
		s.Text = text
		s.Structured = nil
		return nil
	}

	var structured StructuredTerm
	if err := json.Unmarshal(data, &structured); err != nil {
		return fmt.Errorf("search term must be a string or an object: %w", err)
	}
	if structured.IsEmpty() {
		return fmt.Errorf("structured search term must set at least one field")
	}
	s.Text = ""
	s.Structured = &structured
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (s SearchTerm) MarshalJSON() ([]byte, error) {
	if s.Structured != nil {
		return json.Marshal(s.Structured)
	}
	return json.Marshal(s.Text)
}

// TermMatch is a single line matched by a search term.
// LineNumber is 1-based and refers to the original document.
type TermMatch struct {
	TermIndex  int    `json:"termIndex"`
	LineNumber int    `json:"lineNumber"`
	Line       string `json:"line"`
}

// TermResult aggregates the matches of one term for UI highlighting.
type TermResult struct {
	Term    string      `json:"term"`
	Count   int         `json:"count"`
	Matches []TermMatch `json:"matches"`
}

// SearchResults is the outcome of running a SearchQuery over a document.
// Count reflects the emitted (possibly capped) union list; Total is the
// uncapped number of matching lines.
type SearchResults struct {
	Terms     []string     `json:"terms"`
	PerTerm   []TermResult `json:"perTerm"`
	Matches   []TermMatch  `json:"matchingLines"`
	Count     int          `json:"count"`
	Total     int          `json:"total"`
	Truncated bool         `json:"truncated,omitempty"`
	Cap       int          `json:"cap,omitempty"`
}

// AppAdsInfo describes the app-ads.txt document of a developer domain.
// URL is always "https://" + domain + "/app-ads.txt" when Exists is true.
type AppAdsInfo struct {
	Exists           bool            `json:"exists"`
	URL              string          `json:"url,omitempty"`
	Content          string          `json:"content,omitempty"`
	ContentTruncated bool            `json:"contentTruncated,omitempty"`
	Analyzed         *AnalyzedAppAds `json:"analyzed,omitempty"`
	SearchResults    *SearchResults  `json:"searchResults,omitempty"`
}

// BundleResult is the per-bundle outcome. Exactly one result is emitted
// for every input bundle, in both batch and stream modes.
type BundleResult struct {
	BundleID  string      `json:"bundleId"`
	StoreType StoreKind   `json:"storeType"`
	Success   bool        `json:"success"`
	Domain    string      `json:"domain,omitempty"`
	AppAdsTxt *AppAdsInfo `json:"appAdsTxt,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"errorKind,omitempty"`
}

// FailedResult builds an error result for a bundle.
func FailedResult(bundleID string, kind StoreKind, errKind, message string) BundleResult {
	return BundleResult{
		BundleID:  bundleID,
		StoreType: kind,
		Success:   false,
		Error:     message,
		ErrorKind: errKind,
	}
}

// CacheStats is the per-process cache counter snapshot included in batch
// telemetry.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Writes    int64 `json:"writes"`
	Evictions int64 `json:"evictions"`
}

// BatchResponse is the consolidated response for non-streaming mode.
// Results preserve input order.
type BatchResponse struct {
	Success        bool           `json:"success"`
	Results        []BundleResult `json:"results"`
	TotalProcessed int            `json:"totalProcessed"`
	SuccessCount   int            `json:"successCount"`
	ErrorCount     int            `json:"errorCount"`
	ProcessingTime string         `json:"processingTime"`
	CacheStats     CacheStats     `json:"cacheStats"`
}

// ExtractRequest is the request body shared by all three API endpoints.
type ExtractRequest struct {
	BundleIDs   []string     `json:"bundleIds"`
	SearchTerms []SearchTerm `json:"searchTerms,omitempty"`
}
