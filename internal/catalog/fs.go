package catalog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	iou "github.com/akmistry/go-util/io"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	PointerMagic = "tmptr\x31\x41\x59"

	pointerSuffix   = ".ptr"
	versionHintFile = "version-hint"
	maxPointerLen   = 1 << 16

	fieldLocation  protowire.Number = 1
	fieldVersion   protowire.Number = 2
	fieldTimestamp protowire.Number = 3
)

var (
	ErrCorruptPointer = errors.New("catalog: corrupt pointer file")
)

func init() {
	if len(PointerMagic) != 8 {
		panic("len(PointerMagic) != 8")
	}
}

var _ = (Catalog)((*FSCatalog)(nil))

// FSCatalog stores each table as a directory of numbered pointer files,
// <root>/<name>/v<N>.ptr. The highest N is current. A new version is written
// to a temporary file and hard linked to v<N+1>.ptr; link(2) fails if the
// target exists, so exactly one writer can publish each version. This is
// strongly consistent on a local POSIX filesystem, but not on network
// filesystems that emulate link.
//
// version-hint holds the last published N and may lag behind. Readers probe
// forward from it.
type FSCatalog struct {
	root   string
	logger *slog.Logger
}

func NewFSCatalog(root string, logger *slog.Logger) (*FSCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("catalog.FSCatalog: error creating root %s: %w", root, err)
	}
	return &FSCatalog{
		root:   root,
		logger: logger.With("catalog", "fs"),
	}, nil
}

type pointer struct {
	location  string
	version   int64
	timestamp int64
}

func (p *pointer) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLocation, protowire.BytesType)
	b = protowire.AppendString(b, p.location)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.version))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.timestamp))
	return b
}

func (p *pointer) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldLocation && typ == protowire.BytesType:
			p.location, n = protowire.ConsumeString(b)
		case num == fieldVersion && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			p.version = int64(v)
		case num == fieldTimestamp && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			p.timestamp = int64(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// Record format (integers little-endian):
// [0-7]  - PointerMagic
// [8-11] - payload size
// [12-]  - protobuf wire payload
// [last 4] - crc32 (IEEE) of payload
func writePointer(f *os.File, p *pointer) error {
	payload := p.marshal()
	var sizeBuf, crcBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload))
	_, err := iou.WriteMany(f, []byte(PointerMagic), sizeBuf[:], payload, crcBuf[:])
	return err
}

func readPointer(path string) (*pointer, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(buf) < len(PointerMagic)+8 || string(buf[:len(PointerMagic)]) != PointerMagic {
		return nil, fmt.Errorf("%w: %s: bad header", ErrCorruptPointer, path)
	}
	buf = buf[len(PointerMagic):]
	size := binary.LittleEndian.Uint32(buf)
	if size > maxPointerLen || int(size)+8 != len(buf) {
		return nil, fmt.Errorf("%w: %s: bad size %d", ErrCorruptPointer, path, size)
	}
	payload := buf[4 : 4+size]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(buf[4+size:]) {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrCorruptPointer, path)
	}
	p := new(pointer)
	if err := p.unmarshal(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptPointer, path, err)
	}
	return p, nil
}

func (c *FSCatalog) tableDir(name string) string {
	return filepath.Join(c.root, filepath.FromSlash(name))
}

func pointerName(version int64) string {
	return "v" + strconv.FormatInt(version, 10) + pointerSuffix
}

func parsePointerName(name string) (int64, bool) {
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, pointerSuffix) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(name[1:], pointerSuffix), 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (c *FSCatalog) readHint(dir string) int64 {
	buf, err := os.ReadFile(filepath.Join(dir, versionHintFile))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(buf)), 10, 64)
	if err != nil || v < 1 {
		return 0
	}
	return v
}

// Best effort. A missing or stale hint only costs extra probing.
func (c *FSCatalog) writeHint(dir string, version int64) {
	f, err := os.CreateTemp(dir, ".hint-temp-*")
	if err != nil {
		c.logger.Warn("error writing version hint", "dir", dir, "error", err)
		return
	}
	_, err = f.WriteString(strconv.FormatInt(version, 10) + "\n")
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(f.Name(), filepath.Join(dir, versionHintFile))
	}
	if err != nil {
		os.Remove(f.Name())
		c.logger.Warn("error writing version hint", "dir", dir, "error", err)
	}
}

// latestVersion returns the highest published pointer version in dir, or 0
// if the table has none.
func (c *FSCatalog) latestVersion(dir string) (int64, error) {
	v := c.readHint(dir)
	if v > 0 {
		ok, err := exists(filepath.Join(dir, pointerName(v)))
		if err != nil {
			return 0, err
		}
		if !ok {
			v = 0
		}
	}
	if v == 0 {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		} else if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if n, ok := parsePointerName(e.Name()); ok && n > v {
				v = n
			}
		}
		if v == 0 {
			return 0, nil
		}
	}
	for {
		ok, err := exists(filepath.Join(dir, pointerName(v+1)))
		if err != nil {
			return 0, err
		} else if !ok {
			return v, nil
		}
		v++
	}
}

func (c *FSCatalog) current(name string) (*pointer, error) {
	dir := c.tableDir(name)
	v, err := c.latestVersion(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog.FSCatalog: error reading %s: %w", name, err)
	} else if v == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	p, err := readPointer(filepath.Join(dir, pointerName(v)))
	if err != nil {
		return nil, err
	}
	if p.version != v {
		return nil, fmt.Errorf("%w: %s: version %d in file v%d", ErrCorruptPointer, name, p.version, v)
	}
	return p, nil
}

// publish writes p as pointer version p.version. It returns false if that
// version already exists. Errors before the link wrap ErrNotApplied.
func (c *FSCatalog) publish(ctx context.Context, dir string, p *pointer) (bool, error) {
	f, err := os.CreateTemp(dir, ".ptr-temp-*")
	if err != nil {
		return false, notApplied(err)
	}
	defer os.Remove(f.Name())

	err = writePointer(f, p)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return false, notApplied(err)
	}
	if err := ctx.Err(); err != nil {
		return false, notApplied(err)
	}

	err = os.Link(f.Name(), filepath.Join(dir, pointerName(p.version)))
	if errors.Is(err, syscall.EEXIST) || errors.Is(err, fs.ErrExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	c.writeHint(dir, p.version)
	return true, nil
}

func (c *FSCatalog) CurrentLocation(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	p, err := c.current(name)
	if err != nil {
		return "", err
	}
	return p.location, nil
}

func (c *FSCatalog) CompareAndSwap(ctx context.Context, name, expected, newLocation string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	cur, err := c.current(name)
	if errors.Is(err, ErrTableNotFound) {
		return false, err
	} else if err != nil {
		return false, notApplied(err)
	}
	if cur.location != expected {
		c.logger.Debug("pointer moved", "table", name, "expected", expected, "current", cur.location)
		return false, nil
	}
	next := &pointer{
		location:  newLocation,
		version:   cur.version + 1,
		timestamp: time.Now().UnixMilli(),
	}
	ok, err := c.publish(ctx, c.tableDir(name), next)
	if err != nil {
		return false, fmt.Errorf("catalog.FSCatalog: error publishing %s v%d: %w", name, next.version, err)
	}
	if ok {
		c.logger.Debug("pointer swapped", "table", name, "version", next.version, "location", newLocation)
	}
	return ok, nil
}

func (c *FSCatalog) Create(ctx context.Context, name, location string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	dir := c.tableDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("catalog.FSCatalog: error creating %s: %w", name, err)
	}
	v, err := c.latestVersion(dir)
	if err != nil {
		return fmt.Errorf("catalog.FSCatalog: error creating %s: %w", name, err)
	} else if v > 0 {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	p := &pointer{location: location, version: 1, timestamp: time.Now().UnixMilli()}
	ok, err := c.publish(ctx, dir, p)
	if err != nil {
		return fmt.Errorf("catalog.FSCatalog: error creating %s: %w", name, err)
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	return nil
}

// dropOrder returns the catalog files in entries in removal order: the hint,
// then pointers from the newest version down to v1. A table whose drop is
// interrupted keeps v1 and stays listed, so Drop can be repeated.
func dropOrder(entries []fs.DirEntry) []string {
	var versions []int64
	var names []string
	for _, e := range entries {
		if v, ok := parsePointerName(e.Name()); ok {
			versions = append(versions, v)
		} else if e.Name() == versionHintFile {
			names = append(names, versionHintFile)
		}
	}
	slices.Sort(versions)
	slices.Reverse(versions)
	for _, v := range versions {
		names = append(names, pointerName(v))
	}
	return names
}

// Drop removes all pointer versions of the table. Metadata files are not
// touched.
func (c *FSCatalog) Drop(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	dir := c.tableDir(name)
	v, err := c.latestVersion(dir)
	if err != nil {
		return fmt.Errorf("catalog.FSCatalog: error dropping %s: %w", name, err)
	} else if v == 0 {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("catalog.FSCatalog: error dropping %s: %w", name, err)
	}
	for _, f := range dropOrder(entries) {
		if err := os.Remove(filepath.Join(dir, f)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("catalog.FSCatalog: error dropping %s: %w", name, err)
		}
	}
	// Fails harmlessly if nested tables remain.
	os.Remove(dir)
	return nil
}

func (c *FSCatalog) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != pointerName(1) {
			return nil
		}
		rel, err := filepath.Rel(c.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog.FSCatalog: error listing tables: %w", err)
	}
	slices.Sort(names)
	return names, nil
}
