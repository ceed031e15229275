package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a fetch failure for retry decisions and reporting.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindNetwork   Kind = "network"
	KindHTTP      Kind = "http_error"
	KindOversized Kind = "oversized"
	KindDecode    Kind = "decode"
)

// Error is a classified fetch failure. StatusCode is set only for
// KindHTTP.
type Error struct {
	Kind       Kind
	StatusCode int
	URL        string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an HTTP 404 fetch failure. A missing
// app-ads.txt is an expected outcome, not an error condition.
func IsNotFound(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindHTTP && fe.StatusCode == http.StatusNotFound
}

// StatusCodeOf returns the HTTP status of a fetch failure, or 0 when the
// failure never produced a response.
func StatusCodeOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// KindOf returns the failure classification, or an empty Kind for errors
// that did not come from the fetcher.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
