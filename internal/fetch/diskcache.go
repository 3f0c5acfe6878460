package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/logger"
)

// DiskCache stores fetched ranges as zstd files under a directory and
// serves repeated requests for the same range from disk.
type DiskCache struct {
	next Fetcher
	dir  string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	log  *zap.Logger
}

// NewDiskCache wraps next. source identifies the resource and keys the
// cache entries so several models can share dir.
func NewDiskCache(next Fetcher, dir, source string) (*DiskCache, error) {
	dir = filepath.Join(dir, fmt.Sprintf("%016x", xxhash.Sum64String(source)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating disk cache: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &DiskCache{
		next: next,
		dir:  dir,
		enc:  enc,
		dec:  dec,
		log:  logger.Named("diskcache"),
	}, nil
}

func (c *DiskCache) path(start, end int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%d-%d.zst", start, end))
}

// Fetch implements Fetcher. Unreadable or corrupt entries are refetched.
func (c *DiskCache) Fetch(ctx context.Context, start, end int64) ([]byte, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	p := c.path(start, end)
	if raw, err := os.ReadFile(p); err == nil {
		data, err := c.dec.DecodeAll(raw, make([]byte, 0, end-start))
		if err == nil && int64(len(data)) == end-start {
			return data, nil
		}
		c.log.Warn("discarding corrupt cache entry", zap.String("path", p), zap.Error(err))
		_ = os.Remove(p)
	}

	data, err := c.next.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.store(p, data); err != nil {
		c.log.Warn("disk cache write failed", zap.String("path", p), zap.Error(err))
	}
	return data, nil
}

func (c *DiskCache) store(p string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(c.enc.EncodeAll(data, nil)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Close releases the codec state. It does not close the wrapped fetcher.
func (c *DiskCache) Close() error {
	c.dec.Close()
	return c.enc.Close()
}
