package testutil

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func checkedReadAt(t *testing.T, r io.ReaderAt, b []byte, off int64, rem int64) int {
	t.Helper()

	eofRead := int64(len(b)) > rem
	n, err := r.ReadAt(b, off)
	if eofRead {
		if n != int(rem) {
			t.Errorf("off: %d Read %d != rem %d", off, n, rem)
		}
		if err != io.EOF {
			t.Errorf("Error %v != expected EOF", err)
		}
	} else {
		if n != len(b) {
			t.Errorf("Read %d != size %d", n, len(b))
		}
		if err != nil {
			t.Errorf("Error %v", err)
		}
	}
	return n
}

// CheckReaderAt compares contiguous and random ReadAt calls on tested against
// expected.
func CheckReaderAt(t *testing.T, tested, expected io.ReaderAt, size int64, maxReadSize int) {
	t.Helper()

	testReadBuf := make([]byte, maxReadSize)
	expReadBuf := make([]byte, maxReadSize)

	off := int64(0)
	for off < size {
		clear(testReadBuf)
		clear(expReadBuf)
		readSize := rand.Intn(maxReadSize) + 1

		rem := size - off
		testedN := checkedReadAt(t, tested, testReadBuf[:readSize], off, rem)
		expectedN := checkedReadAt(t, expected, expReadBuf[:readSize], off, rem)

		if testedN != expectedN {
			t.Errorf("test read %d != expected read %d", testedN, expectedN)
		}
		if !bytes.Equal(testReadBuf, expReadBuf) {
			t.Errorf("test read buf != expected read buf at off %d, len %d", off, readSize)
		}

		off += int64(expectedN)
	}

	const randReadIterations = 1000
	for i := 0; i < randReadIterations; i++ {
		clear(testReadBuf)
		clear(expReadBuf)

		off = rand.Int63n(size)
		readSize := rand.Intn(maxReadSize)

		rem := size - off
		testedN := checkedReadAt(t, tested, testReadBuf[:readSize], off, rem)
		expectedN := checkedReadAt(t, expected, expReadBuf[:readSize], off, rem)

		if testedN != expectedN {
			t.Errorf("test read %d != expected read %d", testedN, expectedN)
		}
		if !bytes.Equal(testReadBuf, expReadBuf) {
			t.Errorf("test read buf != expected read buf at off %d, len %d", off, readSize)
		}
	}
}

// CheckFullReaderAt reads all of tested, both through a section reader and in
// a single ReadAt, and compares the result to expected.
func CheckFullReaderAt(t *testing.T, tested, expected io.ReaderAt, size int64) {
	t.Helper()

	testBuf, err := io.ReadAll(io.NewSectionReader(tested, 0, size))
	if err != nil {
		t.Errorf("test ReadAll error %v", err)
	} else if int64(len(testBuf)) != size {
		t.Errorf("test ReadAll size %d != %d", len(testBuf), size)
	}
	expBuf, err := io.ReadAll(io.NewSectionReader(expected, 0, size))
	if err != nil {
		t.Errorf("expected ReadAll error %v", err)
	} else if int64(len(expBuf)) != size {
		t.Errorf("expected ReadAll size %d != %d", len(expBuf), size)
	}
	if !bytes.Equal(testBuf, expBuf) {
		t.Error("test read buf != expected read buf")
	}

	clear(testBuf)
	clear(expBuf)
	testedN := checkedReadAt(t, tested, testBuf, 0, size)
	if int64(testedN) != size {
		t.Errorf("test read %d != %d", testedN, size)
	}
	expectedN := checkedReadAt(t, expected, expBuf, 0, size)
	if int64(expectedN) != size {
		t.Errorf("expected read %d != %d", expectedN, size)
	}
	if !bytes.Equal(testBuf, expBuf) {
		t.Errorf("test read buf != expected read buf")
	}
}

// CheckSequentialReads drains r with randomly sized Read calls and compares
// the bytes to expected. Every call before the end must return data, and the
// end must be reported as (0, io.EOF).
func CheckSequentialReads(t *testing.T, r io.Reader, expected []byte, maxReadSize int) {
	t.Helper()

	var got []byte
	buf := make([]byte, maxReadSize)
	for {
		readSize := rand.Intn(maxReadSize) + 1
		n, err := r.Read(buf[:readSize])
		got = append(got, buf[:n]...)
		if err == io.EOF {
			if n != 0 {
				t.Errorf("Read returned %d bytes with EOF", n)
			}
			break
		} else if err != nil {
			t.Errorf("Read error %v", err)
			break
		}
		if n == 0 {
			t.Errorf("Read returned 0 bytes without error at %d", len(got))
			break
		}
	}
	if !bytes.Equal(got, expected) {
		t.Errorf("sequential read %d bytes != expected %d bytes", len(got), len(expected))
	}
}
