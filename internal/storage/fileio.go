package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// InputFile is a readable location.
type InputFile interface {
	Location() string
	Length() (int64, error)
	Exists() (bool, error)
	NewStream() (SeekableInputStream, error)
}

// OutputFile is a writable location.
type OutputFile interface {
	Location() string

	// Create fails with ErrAlreadyExists if the location already has content.
	// The check is repeated when the stream is closed, so a concurrent writer
	// that publishes first also causes Close to fail with ErrAlreadyExists.
	Create(ctx context.Context) (PositionOutputStream, error)
	CreateOrOverwrite(ctx context.Context) (PositionOutputStream, error)
	ToInputFile() InputFile
}

// FileIO resolves locations to input and output files.
type FileIO interface {
	NewInputFile(location string) InputFile
	NewOutputFile(location string) OutputFile

	// Delete removes the file at location. Deleting a missing file is not an
	// error.
	Delete(location string) error
}

var _ = (FileIO)((*BlobFileIO)(nil))

// BlobFileIO implements FileIO on top of a BlobStore. Relative locations are
// blob names. Absolute paths and URIs must fall under root, the location of
// the store itself, and have root stripped; any other absolute location fails
// with ErrInvalidLocation. A local root "/wh" also accepts "file:///wh/...".
type BlobFileIO struct {
	bs       BlobStore
	root     string
	prefixes []string
}

func NewBlobFileIO(bs BlobStore, root string) *BlobFileIO {
	root, _, _ = strings.Cut(root, "?")
	root = strings.TrimRight(root, "/")
	f := &BlobFileIO{bs: bs, root: root}
	switch {
	case root == "":
	case strings.HasPrefix(root, "/"):
		f.prefixes = []string{root + "/", "file://" + root + "/"}
	case strings.HasPrefix(root, "file:///"):
		f.prefixes = []string{root + "/", strings.TrimPrefix(root, "file://") + "/"}
	default:
		f.prefixes = []string{root + "/"}
	}
	return f
}

func hasScheme(location string) bool {
	i := strings.Index(location, "://")
	return i > 0 && !strings.Contains(location[:i], "/")
}

func (f *BlobFileIO) blobName(location string) (string, error) {
	if !strings.HasPrefix(location, "/") && !hasScheme(location) {
		return location, nil
	}
	for _, p := range f.prefixes {
		if name, ok := strings.CutPrefix(location, p); ok && name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s is not under %q", ErrInvalidLocation, location, f.root)
}

func (f *BlobFileIO) NewInputFile(location string) InputFile {
	name, err := f.blobName(location)
	return &blobInputFile{bs: f.bs, location: location, name: name, err: err}
}

func (f *BlobFileIO) NewOutputFile(location string) OutputFile {
	name, err := f.blobName(location)
	return &blobOutputFile{bs: f.bs, location: location, name: name, err: err}
}

func (f *BlobFileIO) Delete(location string) error {
	name, err := f.blobName(location)
	if err != nil {
		return err
	}
	err = f.bs.Remove(name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage.BlobFileIO: error deleting %s: %w", location, err)
	}
	return nil
}

// err is set when location cannot be mapped to a blob name, and is returned
// from every operation.
type blobInputFile struct {
	bs       BlobStore
	location string
	name     string
	err      error
}

func (f *blobInputFile) Location() string {
	return f.location
}

func (f *blobInputFile) Length() (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.bs.Stat(f.name)
}

func (f *blobInputFile) Exists() (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, err := f.bs.Stat(f.name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (f *blobInputFile) NewStream() (SeekableInputStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, err := f.bs.Open(f.name)
	if err != nil {
		return nil, err
	}
	return WrapReader(r), nil
}

type blobOutputFile struct {
	bs       BlobStore
	location string
	name     string
	err      error
}

func (f *blobOutputFile) Location() string {
	return f.location
}

func (f *blobOutputFile) Create(ctx context.Context) (PositionOutputStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	exists, err := f.ToInputFile().Exists()
	if err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, f.location)
	}
	return f.create(ctx, CreateExclusive)
}

func (f *blobOutputFile) CreateOrOverwrite(ctx context.Context) (PositionOutputStream, error) {
	return f.create(ctx, CreateOverwrite)
}

func (f *blobOutputFile) create(ctx context.Context, mode CreateMode) (PositionOutputStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	w, err := f.bs.Create(ctx, f.name, mode)
	if err != nil {
		return nil, err
	}
	return WrapWriter(w), nil
}

func (f *blobOutputFile) ToInputFile() InputFile {
	return &blobInputFile{bs: f.bs, location: f.location, name: f.name, err: f.err}
}
