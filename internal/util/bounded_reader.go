package util

import (
	"io"
)

// BoundedReader reads the first size bytes of an io.ReaderAt, either at
// offsets or sequentially from a cursor. Reads that end past size are short
// and return io.EOF. If the underlying reader ends before size, the
// remainder reads as zeros.
type BoundedReader struct {
	r    io.ReaderAt
	size int64
	off  int64
}

func NewBoundedReader(r io.ReaderAt, size int64) *BoundedReader {
	return &BoundedReader{
		r:    r,
		size: size,
	}
}

func (r *BoundedReader) ReadAt(b []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}

	readLen := int(min(int64(len(b)), r.size-off))
	n, err := r.r.ReadAt(b[:readLen], off)
	if err == io.EOF {
		clear(b[n:readLen])
		n = readLen
		err = nil
	} else if err != nil {
		return n, err
	}

	if n < len(b) {
		err = io.EOF
	}
	return n, err
}

// Read reads from the cursor and advances it by the bytes read.
func (r *BoundedReader) Read(b []byte) (int, error) {
	n, err := r.ReadAt(b, r.off)
	if n > 0 {
		r.off += int64(n)
	}
	return n, err
}

func (r *BoundedReader) Offset() int64 {
	return r.off
}

func (r *BoundedReader) SetOffset(off int64) {
	r.off = off
}

func (r *BoundedReader) Size() int64 {
	return r.size
}
