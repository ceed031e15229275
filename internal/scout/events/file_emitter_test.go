package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
)

func TestFileEmitter_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	emitter, err := NewFileEmitter(config.FileEventConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)

	emitter.Emit(&RequestEvent{
		RequestID:    "req-1",
		Endpoint:     "/api/extract-multiple",
		BundleCount:  3,
		StatusCode:   200,
		SuccessCount: 2,
		ErrorCount:   1,
		CreatedAt:    time.Now().UTC(),
	})
	emitter.Emit(&RequestEvent{RequestID: "req-2", Endpoint: "/api/stream/extract-multiple", StatusCode: 400})
	require.NoError(t, emitter.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []RequestEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event RequestEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, 3, events[0].BundleCount)
	assert.Equal(t, 1, events[0].ErrorCount)
	assert.Equal(t, "req-2", events[1].RequestID)
	assert.Equal(t, 400, events[1].StatusCode)
}

func TestNoopEmitter(t *testing.T) {
	var emitter Emitter = &NoopEmitter{}
	emitter.Emit(&RequestEvent{RequestID: "ignored"})
	assert.NoError(t, emitter.Close())
}
