package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
	"github.com/adscout/engine/internal/common/redis"
)

// expiryHeaderLen is the size of the expiry header prefixed to every
// cache file: big-endian unix seconds.
const expiryHeaderLen = 8

// FileStore is the file-backed durable cache tier, used when Redis is not
// configured. Files are content-addressed by the md5 of the logical key
// and fanned out into two-character subdirectories. Each file starts with
// an expiry header; payloads at or above the compression threshold are
// stored gzipped with a .gz extension, and readers try the compressed
// variant first.
//
// Expired files read as misses; physical removal is left to the cleanup
// janitor.
type FileStore struct {
	basePath           string
	compressionMinSize int
	keys               *redis.KeyGenerator
	logger             *zap.Logger

	now func() time.Time
}

// NewFileStore creates a file-backed store rooted at cfg.BasePath,
// creating the directory if needed.
func NewFileStore(cfg config.FileCacheConfig, keys *redis.KeyGenerator, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{
		basePath:           cfg.BasePath,
		compressionMinSize: cfg.CompressionMinSize,
		keys:               keys,
		logger:             logger,
		now:                time.Now,
	}, nil
}

// filePath returns the uncompressed path for a logical key.
func (fs *FileStore) filePath(key string) string {
	hash := fs.keys.HashKey(key)
	return filepath.Join(fs.basePath, hash[:2], hash)
}

// Get reads a cached payload and its remaining freshness.
func (fs *FileStore) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	plainPath := fs.filePath(key)

	for _, candidate := range []string{plainPath + ExtGzip, plainPath} {
		content, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, false, fmt.Errorf("failed to read cache file: %w", err)
		}

		if filepath.Ext(candidate) == ExtGzip {
			content, err = decompressGzip(content)
			if err != nil {
				// Self-healing: drop the corrupt file so the next write recovers
				fs.logger.Warn("Cache decompression failed, treating as miss",
					zap.String("file_path", candidate),
					zap.Error(err))
				os.Remove(candidate)
				return nil, 0, false, nil
			}
		}

		if len(content) < expiryHeaderLen {
			fs.logger.Warn("Cache file truncated, treating as miss",
				zap.String("file_path", candidate),
				zap.Int("size_bytes", len(content)))
			os.Remove(candidate)
			return nil, 0, false, nil
		}

		expiresAt := time.Unix(int64(binary.BigEndian.Uint64(content[:expiryHeaderLen])), 0)
		remaining := expiresAt.Sub(fs.now())
		if remaining <= 0 {
			fs.logger.Debug("Cache file expired",
				zap.String("file_path", candidate),
				zap.Time("expired_at", expiresAt))
			return nil, 0, false, nil
		}

		payload := content[expiryHeaderLen:]
		fs.logger.Debug("Cache file read",
			zap.String("file_path", candidate),
			zap.Int("size_bytes", len(payload)))
		return payload, remaining, true, nil
	}

	return nil, 0, false, nil
}

// Set writes a payload using the atomic temp-then-rename pattern.
func (fs *FileStore) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	content := make([]byte, expiryHeaderLen+len(data))
	binary.BigEndian.PutUint64(content[:expiryHeaderLen], uint64(fs.now().Add(ttl).Unix()))
	copy(content[expiryHeaderLen:], data)

	plainPath := fs.filePath(key)
	finalPath := plainPath

	if len(data) >= fs.compressionMinSize {
		compressed, err := compressGzip(content)
		if err != nil {
			return err
		}
		finalPath = plainPath + ExtGzip
		content = compressed
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// Drop the other variant so a shrinking or growing payload never
	// leaves two generations behind
	if finalPath == plainPath {
		os.Remove(plainPath + ExtGzip)
	} else {
		os.Remove(plainPath)
	}

	fs.logger.Debug("Cache file written",
		zap.String("file_path", finalPath),
		zap.Int("size_bytes", len(data)),
		zap.Int("disk_bytes", len(content)))
	return nil
}
