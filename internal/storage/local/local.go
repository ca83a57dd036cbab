package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/akmistry/tablemeta/internal/storage"
)

const (
	tempBlobPrefix  = ".temp-"
	tempBlobPattern = tempBlobPrefix + "*"
)

var (
	_ = (storage.BlobStore)((*BlobStore)(nil))
	_ = (storage.BlobWriter)((*blobWriter)(nil))
)

type fileReader struct {
	*os.File
	size int64
}

func (r *fileReader) Size() int64 {
	return r.size
}

func openFileReader(fpath string) (*fileReader, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &fileReader{
		File: f,
		size: fi.Size(),
	}
	return r, nil
}

// BlobStore keeps blobs as files under a single directory. Writes are staged
// in a temp file and published on Close: by rename for CreateOverwrite, and by
// hard link for CreateExclusive. link(2) fails if the target exists, which
// makes exclusive publication atomic on POSIX filesystems.
type BlobStore struct {
	dir string
}

func NewBlobStore(dir string) (*BlobStore, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local.BlobStore: error resolving blob dir: %w", err)
	}
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("local.BlobStore: error making blob dir %s: %w", dir, err)
	}

	s := &BlobStore{
		dir: dir,
	}
	return s, nil
}

// Dir returns the absolute path of the store directory.
func (s *BlobStore) Dir() string {
	return s.dir
}

// NewFileIO returns a FileIO over s. Relative locations and absolute paths or
// file:// URLs under Dir are accepted.
func (s *BlobStore) NewFileIO() *storage.BlobFileIO {
	return storage.NewBlobFileIO(s, filepath.ToSlash(s.dir))
}

func (s *BlobStore) makeFilePath(name string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("local.BlobStore: invalid blob name %q", name)
	}
	return filepath.Join(s.dir, filepath.FromSlash(name)), nil
}

func (s *BlobStore) makeTempFile() (*os.File, error) {
	return os.CreateTemp(s.dir, tempBlobPattern)
}

func (s *BlobStore) Open(name string) (storage.BlobReader, error) {
	fpath, err := s.makeFilePath(name)
	if err != nil {
		return nil, err
	}
	return openFileReader(fpath)
}

func (s *BlobStore) Stat(name string) (int64, error) {
	fpath, err := s.makeFilePath(name)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(fpath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

type blobWriter struct {
	*os.File
	ctx  context.Context
	path string
	mode storage.CreateMode
}

func (w *blobWriter) Flush() error {
	slog.Debug("blobWriter.Flush()", "path", w.path)
	return w.File.Sync()
}

func (w *blobWriter) publish() error {
	err := os.MkdirAll(filepath.Dir(w.path), 0755)
	if err != nil {
		return err
	}
	if w.mode == storage.CreateOverwrite {
		return os.Rename(w.File.Name(), w.path)
	}
	err = os.Link(w.File.Name(), w.path)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, w.path)
	}
	return err
}

func (w *blobWriter) Close() error {
	if w.File == nil {
		return nil
	}
	defer os.Remove(w.File.Name())

	err := w.File.Sync()
	if err != nil {
		// Close the file on sync error to avoid an FD leak
		w.File.Close()
		w.File = nil
		return err
	}
	err = w.File.Close()
	if err != nil {
		w.File = nil
		return err
	}
	if err := w.ctx.Err(); err != nil {
		w.File = nil
		return err
	}
	err = w.publish()
	w.File = nil
	return err
}

func (w *blobWriter) Abort() error {
	if w.File == nil {
		return nil
	}
	name := w.File.Name()
	w.File.Close()
	w.File = nil
	return os.Remove(name)
}

func (s *BlobStore) Create(ctx context.Context, name string, mode storage.CreateMode) (storage.BlobWriter, error) {
	fpath, err := s.makeFilePath(name)
	if err != nil {
		return nil, err
	}
	f, err := s.makeTempFile()
	if err != nil {
		return nil, err
	}
	return &blobWriter{
		File: f,
		ctx:  ctx,
		path: fpath,
		mode: mode,
	}, nil
}

func (s *BlobStore) Remove(name string) error {
	fpath, err := s.makeFilePath(name)
	if err != nil {
		return err
	}
	return os.Remove(fpath)
}
