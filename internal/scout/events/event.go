// Package events writes one JSONL record per API request to a rotated
// log file, for offline traffic analysis independent of the metrics
// endpoint.
package events

import "time"

// RequestEvent is the per-request record written to the event log.
type RequestEvent struct {
	RequestID string `json:"request_id"`
	Endpoint  string `json:"endpoint"`
	ClientIP  string `json:"client_ip"`

	BundleCount int `json:"bundle_count"`
	SearchTerms int `json:"search_terms"`

	StatusCode   int     `json:"status_code"`
	SuccessCount int     `json:"success_count"`
	ErrorCount   int     `json:"error_count"`
	ServeTime    float64 `json:"serve_time"` // seconds

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	InstanceID string    `json:"instance_id"`
}
