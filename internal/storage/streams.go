package storage

import (
	"fmt"
	"io"

	"github.com/akmistry/tablemeta/internal/util"
)

// SeekableInputStream is a positioned reader over a single blob.
//
// Read returns io.EOF once the stream is exhausted. Short reads are returned
// as-is; callers that need a full buffer should use io.ReadFull.
type SeekableInputStream interface {
	io.Reader
	io.ReaderAt
	io.Closer

	// Seek moves the read position. Positions outside [0, Length] fail with
	// ErrOutOfRange and leave the position unchanged.
	Seek(pos int64) error
	Pos() int64
	Length() int64
}

// PositionOutputStream tracks the number of bytes accepted so far.
type PositionOutputStream interface {
	io.Writer
	io.Closer
	Flusher

	Pos() int64
	Abort() error
}

var (
	_ = (SeekableInputStream)((*seekableStream)(nil))
	_ = (PositionOutputStream)((*positionStream)(nil))
)

type seekableStream struct {
	br     BlobReader
	r      *util.BoundedReader
	closed bool
}

// WrapReader adapts a backend BlobReader to a SeekableInputStream.
func WrapReader(br BlobReader) SeekableInputStream {
	return &seekableStream{
		br: br,
		r:  util.NewBoundedReader(br, br.Size()),
	}
}

func (s *seekableStream) Read(b []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := s.r.Read(b)
	if err == io.EOF && n > 0 {
		// Report EOF on the next call, so a partial read is never mistaken for
		// an empty one.
		err = nil
	}
	return n, err
}

func (s *seekableStream) ReadAt(b []byte, off int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrOutOfRange, off)
	}
	return s.r.ReadAt(b, off)
}

func (s *seekableStream) Seek(pos int64) error {
	if s.closed {
		return ErrClosed
	}
	if pos < 0 || pos > s.r.Size() {
		return fmt.Errorf("%w: seek to %d, length %d", ErrOutOfRange, pos, s.r.Size())
	}
	s.r.SetOffset(pos)
	return nil
}

func (s *seekableStream) Pos() int64 {
	return s.r.Offset()
}

func (s *seekableStream) Length() int64 {
	return s.r.Size()
}

func (s *seekableStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.br.Close()
}

type positionStream struct {
	w      BlobWriter
	pos    int64
	closed bool
}

// WrapWriter adapts a backend BlobWriter to a PositionOutputStream.
func WrapWriter(w BlobWriter) PositionOutputStream {
	return &positionStream{w: w}
}

func (s *positionStream) Write(b []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	n, err := s.w.Write(b)
	s.pos += int64(n)
	return n, err
}

func (s *positionStream) Pos() int64 {
	return s.pos
}

func (s *positionStream) Flush() error {
	if s.closed {
		return ErrClosed
	}
	if f, ok := s.w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (s *positionStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

func (s *positionStream) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Abort()
}
