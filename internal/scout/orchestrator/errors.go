package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/adscout/engine/internal/scout/appads"
	"github.com/adscout/engine/internal/scout/extract"
	"github.com/adscout/engine/internal/scout/fetch"
	"github.com/adscout/engine/internal/scout/workerpool"
	"github.com/adscout/engine/pkg/types"
)

// describeError maps a pipeline error to the result error kind and a
// client-facing message.
func describeError(err error) (kind, message string) {
	switch {
	case errors.Is(err, extract.ErrDomainNotFound):
		return types.ErrKindDomainNotFound, "Developer domain not found in store listing"
	case errors.Is(err, workerpool.ErrTaskTimeout):
		return types.ErrKindWorkerTimeout, "Analysis timed out"
	case errors.Is(err, appads.ErrMemoryExceeded):
		return types.ErrKindWorkerMemory, "Analysis aborted under memory pressure"
	case errors.Is(err, workerpool.ErrQueueFull):
		return types.ErrKindInternal, "Analysis queue is full, try again later"
	case errors.Is(err, workerpool.ErrPoolStopped):
		return types.ErrKindInternal, "Service is shutting down"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.ErrKindInternal, "Request cancelled"
	}

	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) {
		return types.ErrKindFetchError, fetchMessage(fetchErr)
	}

	return types.ErrKindInternal, "Internal error"
}

func fetchMessage(err *fetch.Error) string {
	switch err.Kind {
	case fetch.KindOversized:
		return fmt.Sprintf("Oversized response from %s", err.URL)
	case fetch.KindTimeout:
		return fmt.Sprintf("Timed out fetching %s", err.URL)
	case fetch.KindHTTP:
		return fmt.Sprintf("Upstream returned HTTP %d for %s", err.StatusCode, err.URL)
	case fetch.KindDecode:
		return fmt.Sprintf("Response from %s is not valid text", err.URL)
	default:
		return fmt.Sprintf("Failed to fetch %s", err.URL)
	}
}
