package cache

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// tempFileMaxAge bounds how long an orphaned .tmp file from an
// interrupted write may linger before the sweep collects it.
const tempFileMaxAge = time.Hour

// SweepExpired walks the store and removes files whose embedded expiry
// passed more than margin ago, orphaned temp files, and unreadable
// entries. Empty fan-out directories are removed afterwards. Returns
// the number of files removed.
func (fs *FileStore) SweepExpired(ctx context.Context, margin time.Duration) (int, error) {
	removed := 0
	cutoff := fs.now().Add(-margin)

	err := filepath.WalkDir(fs.basePath, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			fs.logger.Warn("Error accessing path during sweep",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			return nil
		}

		if strings.HasSuffix(path, ".tmp") {
			if info, statErr := entry.Info(); statErr == nil && fs.now().Sub(info.ModTime()) > tempFileMaxAge {
				if os.Remove(path) == nil {
					removed++
				}
			}
			return nil
		}

		expiresAt, ok := fs.entryExpiry(path)
		if !ok || expiresAt.Before(cutoff) {
			if removeErr := os.Remove(path); removeErr != nil {
				fs.logger.Warn("Failed to remove expired cache file",
					zap.String("path", path),
					zap.Error(removeErr))
				return nil
			}
			removed++
			fs.logger.Debug("Removed expired cache file",
				zap.String("path", path),
				zap.Time("expired_at", expiresAt))
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	fs.removeEmptyDirs()
	return removed, nil
}

// entryExpiry reads the embedded expiry of a cache file. ok is false
// for corrupt or truncated files, which the sweep then removes.
func (fs *FileStore) entryExpiry(path string) (time.Time, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	if filepath.Ext(path) == ExtGzip {
		content, err = decompressGzip(content)
		if err != nil {
			return time.Time{}, false
		}
	}
	if len(content) < expiryHeaderLen {
		return time.Time{}, false
	}
	return time.Unix(int64(binary.BigEndian.Uint64(content[:expiryHeaderLen])), 0), true
}

// removeEmptyDirs drops fan-out subdirectories left empty by the sweep.
// The base directory itself is kept.
func (fs *FileStore) removeEmptyDirs() {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(fs.basePath, entry.Name())
		children, err := os.ReadDir(dir)
		if err != nil || len(children) > 0 {
			continue
		}
		if err := os.Remove(dir); err == nil {
			fs.logger.Debug("Removed empty cache directory", zap.String("path", dir))
		}
	}
}
