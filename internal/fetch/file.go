package fetch

import (
	"context"
	"errors"
	"io"
	"os"
)

// File reads ranges from a local container.
type File struct {
	path string
	f    *os.File
}

// OpenFile opens path for ranged reads.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &TransportError{Op: "open", Source: path, Err: err}
	}
	return &File{path: path, f: f}, nil
}

// Fetch implements Fetcher. Reads past the end of the file are not retryable.
func (f *File) Fetch(ctx context.Context, start, end int64) ([]byte, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, end-start)
	n, err := f.f.ReadAt(buf, start)
	if n == len(buf) {
		return buf, nil
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, &TransportError{Op: "read", Source: f.path, Err: err}
}

// Close releases the file handle.
func (f *File) Close() error {
	return f.f.Close()
}
