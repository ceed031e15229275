package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/adscout/engine/internal/common/config"
)

// Rotation defaults applied when the config leaves them unset.
const (
	DefaultMaxSize    = 100 // MB
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10  // files
)

// FileEmitter writes one JSON object per line to a rotated log file.
type FileEmitter struct {
	writer *lumberjack.Logger
	logger *zap.Logger
}

// NewFileEmitter creates a file-backed emitter, creating the parent
// directory if needed.
func NewFileEmitter(cfg config.FileEventConfig, logger *zap.Logger) (*FileEmitter, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory %s: %w", dir, err)
	}

	maxSize := cfg.Rotation.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	maxAge := cfg.Rotation.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	maxBackups := cfg.Rotation.MaxBackups
	if maxBackups == 0 {
		maxBackups = DefaultMaxBackups
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxAge:     maxAge,
		MaxBackups: maxBackups,
		Compress:   cfg.Rotation.Compress,
	}

	return &FileEmitter{writer: writer, logger: logger}, nil
}

// Emit serializes the event and appends it to the log file.
// Fire-and-forget: errors are logged but not returned.
func (f *FileEmitter) Emit(event *RequestEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		f.logger.Warn("Failed to serialize request event",
			zap.String("request_id", event.RequestID),
			zap.Error(err))
		return
	}
	if _, err := f.writer.Write(append(line, '\n')); err != nil {
		f.logger.Warn("Failed to write request event",
			zap.String("request_id", event.RequestID),
			zap.Error(err))
	}
}

// Close closes the underlying file handle.
func (f *FileEmitter) Close() error {
	return f.writer.Close()
}
