package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrAlreadyExists = errors.New("storage: already exists")
	ErrOutOfRange    = errors.New("storage: position out of range")
	ErrClosed        = errors.New("storage: stream closed")

	ErrInvalidLocation = errors.New("storage: location outside store")
)

type CreateMode int

const (
	// Publish fails with ErrAlreadyExists if the name already has content.
	CreateExclusive CreateMode = iota
	// Publish replaces any existing content.
	CreateOverwrite
)

func (m CreateMode) String() string {
	switch m {
	case CreateExclusive:
		return "exclusive"
	case CreateOverwrite:
		return "overwrite"
	}
	return "unknown"
}

type BlobReader interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// BlobWriter stages bytes for a single blob. Content becomes visible under its
// name on Close. Abort discards everything written.
type BlobWriter interface {
	io.WriteCloser
	Abort() error
}

type Flusher interface {
	Flush() error
}

// BlobStore is the minimal contract each storage backend implements. Missing
// blobs are reported with an error wrapping fs.ErrNotExist.
type BlobStore interface {
	Open(name string) (BlobReader, error)
	Create(ctx context.Context, name string, mode CreateMode) (BlobWriter, error)
	Stat(name string) (int64, error)
	Remove(name string) error
}
