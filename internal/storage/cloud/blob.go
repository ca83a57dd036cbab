package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	cu "github.com/akmistry/cloud-util"
	_ "github.com/akmistry/cloud-util/all"
	"github.com/akmistry/cloud-util/cache"
	"gocloud.dev/gcerrors"

	"github.com/akmistry/tablemeta/internal/storage"
)

// BlobStore wraps an object store opened by URL (s3://, gs://, file://, ...).
//
// Object stores reachable through this API have no conditional put, so
// CreateExclusive is an existence check followed by an unconditional write.
// That is sufficient for uniquely named staged metadata files, but must never
// be used to publish a table pointer; use a catalog for that.
type BlobStore struct {
	bs cu.BlobStore

	// Underlying storage, excluding caches
	baseBs cu.BlobStore
}

var _ = (storage.BlobStore)((*BlobStore)(nil))

func NewBlobStore(url, stagingDir, cacheDir string, cacheSize int64) (*BlobStore, error) {
	bs, err := cu.OpenBlobStore(url)
	if err != nil {
		return nil, err
	}
	baseBs := bs
	if stagingDir != "" {
		bs, err = cache.NewStagedBlobUploader(bs, stagingDir)
		if err != nil {
			return nil, err
		}
	}
	if cacheDir != "" {
		bs, err = cache.NewBlockBlobCache(bs, cacheDir, cacheSize)
		if err != nil {
			return nil, err
		}
	}
	s := &BlobStore{
		bs:     bs,
		baseBs: baseBs,
	}
	return s, nil
}

// Base returns a store that bypasses the staging uploader and block cache.
// Metadata reads go through Base so a refresh never observes a cached copy.
func (s *BlobStore) Base() *BlobStore {
	if s.bs == s.baseBs {
		// No caches, return self
		return s
	}
	return &BlobStore{
		bs:     s.baseBs,
		baseBs: s.baseBs,
	}
}

func notFound(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("cloud.BlobStore: %s: %w", name, fs.ErrNotExist)
	}
	return err
}

func (s *BlobStore) Open(name string) (storage.BlobReader, error) {
	r, err := s.bs.Get(name)
	if err != nil {
		return nil, notFound(name, err)
	}
	return r, nil
}

func (s *BlobStore) Stat(name string) (int64, error) {
	r, err := s.bs.Get(name)
	if err != nil {
		return 0, notFound(name, err)
	}
	defer r.Close()
	return r.Size(), nil
}

type blobWriter struct {
	io.WriteCloser
	cancel func()
	stop   func() bool
	done   bool
}

func (w *blobWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.stop()
	return w.WriteCloser.Close()
}

func (w *blobWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.stop()
	w.cancel()
	return nil
}

func (s *BlobStore) Create(ctx context.Context, name string, mode storage.CreateMode) (storage.BlobWriter, error) {
	if mode == storage.CreateExclusive {
		_, err := s.Stat(name)
		if err == nil {
			return nil, fmt.Errorf("%w: %s", storage.ErrAlreadyExists, name)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	w, err := s.bs.Put(name)
	if err != nil {
		return nil, err
	}
	bw := &blobWriter{
		WriteCloser: w,
		cancel:      func() { w.Cancel() },
	}
	bw.stop = context.AfterFunc(ctx, bw.cancel)
	return bw, nil
}

func (s *BlobStore) Remove(name string) error {
	err := s.bs.Delete(name)
	if err != nil {
		return notFound(name, err)
	}
	return nil
}
