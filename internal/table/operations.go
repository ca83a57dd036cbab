package table

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/akmistry/go-util/bufferpool"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/akmistry/tablemeta/internal/catalog"
	"github.com/akmistry/tablemeta/internal/locations"
	"github.com/akmistry/tablemeta/internal/metadata"
	"github.com/akmistry/tablemeta/internal/metrics"
	"github.com/akmistry/tablemeta/internal/storage"
)

const (
	maxMetadataFileSize = 64 << 20
	cleanupParallelism  = 4
)

// Operations publishes new metadata versions of a single table.
//
// It caches the last metadata it observed. Commit is single-shot: it stages
// a new metadata file, then swaps the catalog pointer from the base file to
// the new one. It never retries. Any number of Operations, in any number of
// processes, may commit to the same table; the catalog's compare-and-swap
// decides the winner.
type Operations struct {
	catalog catalog.Catalog
	io      storage.FileIO
	name    string
	logger  *slog.Logger

	lock    sync.Mutex
	current *metadata.TableMetadata
}

// NewOperations returns Operations for the named table without loading it.
// Call Refresh before the first Commit.
func NewOperations(cat catalog.Catalog, fio storage.FileIO, name string, logger *slog.Logger) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{
		catalog: cat,
		io:      fio,
		name:    name,
		logger:  logger.With("table", name),
	}
}

// Open returns Operations for an existing table, with current metadata
// loaded.
func Open(ctx context.Context, cat catalog.Catalog, fio storage.FileIO, name string, logger *slog.Logger) (*Operations, error) {
	o := NewOperations(cat, fio, name, logger)
	if _, err := o.Refresh(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Operations) Name() string {
	return o.name
}

// Current returns the cached metadata without any I/O. It may be stale, and
// is nil before the first successful Refresh or Commit.
func (o *Operations) Current() *metadata.TableMetadata {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.current
}

func (o *Operations) setCurrent(m *metadata.TableMetadata) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.current = m
}

// Refresh loads the metadata the catalog currently points to. If that is the
// file already cached, no metadata is read.
func (o *Operations) Refresh(ctx context.Context) (*metadata.TableMetadata, error) {
	loc, err := o.catalog.CurrentLocation(ctx, o.name)
	if errors.Is(err, catalog.ErrTableNotFound) {
		o.setCurrent(nil)
		metrics.Refreshes.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	} else if err != nil {
		metrics.Refreshes.WithLabelValues(metrics.ResultError).Inc()
		return nil, &ReadError{Table: o.name, Location: loc, Err: err}
	}

	if cur := o.Current(); cur != nil && cur.MetadataFileLocation() == loc {
		metrics.Refreshes.WithLabelValues(metrics.ResultUnchanged).Inc()
		return cur, nil
	}

	m, err := o.readMetadata(ctx, loc)
	if err != nil {
		metrics.Refreshes.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	o.setCurrent(m)
	metrics.Refreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	o.logger.Debug("refreshed", "location", loc, "snapshot", m.CurrentSnapshotID())
	return m, nil
}

func (o *Operations) readMetadata(ctx context.Context, loc string) (*metadata.TableMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Table: o.name, Location: loc, Err: err}
	}
	s, err := o.io.NewInputFile(loc).NewStream()
	if err != nil {
		return nil, &ReadError{Table: o.name, Location: loc, Err: err}
	}
	defer s.Close()

	size := s.Length()
	if size > maxMetadataFileSize {
		return nil, &CorruptMetadataError{
			Table:    o.name,
			Location: loc,
			Err:      fmt.Errorf("%w: file size %d too large", metadata.ErrInvalidMetadata, size),
		}
	}
	buf := bufferpool.GetBuffer(int(size))
	defer bufferpool.PutBuffer(buf)
	data := buf.AvailableBuffer()[:size]
	if _, err := io.ReadFull(s, data); err != nil {
		return nil, &ReadError{Table: o.name, Location: loc, Err: err}
	}

	m, err := metadata.ParseBytes(data)
	if err != nil {
		return nil, &CorruptMetadataError{Table: o.name, Location: loc, Err: err}
	}
	return m.WithMetadataFileLocation(loc), nil
}

func (o *Operations) isCurrent(base *metadata.TableMetadata) bool {
	cur := o.Current()
	if base == cur {
		return true
	}
	return cur != nil &&
		base.MetadataFileLocation() == cur.MetadataFileLocation() &&
		base.Equal(cur)
}

// Commit publishes next as the table's new current metadata. base must be
// the current metadata next was derived from.
//
// The commit is applied if and only if Commit returns nil. On
// *CommitConflictError nothing was applied and the caller may refresh and
// retry. On *CommitStateUnknownError the caller must refresh to find out.
func (o *Operations) Commit(ctx context.Context, base, next *metadata.TableMetadata) error {
	if next == nil {
		return fmt.Errorf("%w: nil metadata", metadata.ErrInvalidMetadata)
	}
	if base == nil {
		return fmt.Errorf("table %s: %w", o.name, ErrNotLoaded)
	}
	if base == next {
		o.logger.Debug("nothing to commit")
		return nil
	}
	baseLoc := base.MetadataFileLocation()
	if baseLoc == "" {
		return fmt.Errorf("table %s: base metadata was never published", o.name)
	}
	if !o.isCurrent(base) {
		metrics.Commits.WithLabelValues(metrics.ResultConflict).Inc()
		return &CommitConflictError{Table: o.name, Base: baseLoc}
	}
	if err := next.Validate(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}()

	version := max(locations.ParseVersion(baseLoc), 0) + 1
	maxPrev := next.PropertyInt(metadata.PropMetadataPreviousVersionsMax, metadata.DefaultMetadataPreviousVersions)
	staged, dropped := next.WithPreviousFile(baseLoc, base.LastUpdatedMillis(), maxPrev)
	newLoc := locations.ForMetadata(staged).Resolve(locations.MetadataFileName(version))

	if err := o.stage(ctx, newLoc, staged); err != nil {
		metrics.Commits.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	// Last chance to back out. After this the swap may take effect even if
	// the context is cancelled mid-call.
	if err := ctx.Err(); err != nil {
		o.deleteStaged(newLoc)
		metrics.Commits.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	ok, err := o.catalog.CompareAndSwap(ctx, o.name, baseLoc, newLoc)
	if errors.Is(err, catalog.ErrTableNotFound) || errors.Is(err, catalog.ErrNotApplied) {
		o.deleteStaged(newLoc)
		metrics.Commits.WithLabelValues(metrics.ResultError).Inc()
		return err
	} else if err != nil {
		metrics.Commits.WithLabelValues(metrics.ResultUnknown).Inc()
		o.logger.Error("commit state unknown", "staged", newLoc, "error", err)
		return &CommitStateUnknownError{Table: o.name, Staged: newLoc, Err: err}
	}
	if !ok {
		o.deleteStaged(newLoc)
		metrics.Commits.WithLabelValues(metrics.ResultConflict).Inc()
		o.logger.Debug("commit conflict", "base", baseLoc, "staged", newLoc)
		return &CommitConflictError{Table: o.name, Base: baseLoc, Staged: newLoc}
	}

	// Committed. Nothing below may fail.
	committed := staged.WithMetadataFileLocation(newLoc)
	o.setCurrent(committed)
	metrics.Commits.WithLabelValues(metrics.ResultSuccess).Inc()
	o.logger.Debug("committed", "location", newLoc, "version", version,
		"snapshot", committed.CurrentSnapshotID())

	if committed.PropertyBool(metadata.PropMetadataDeleteAfterCommit, false) {
		o.cleanup(dropped)
	}
	return nil
}

func (o *Operations) stage(ctx context.Context, loc string, m *metadata.TableMetadata) error {
	b, err := metadata.Marshal(m)
	if err != nil {
		return err
	}

	w, err := o.io.NewOutputFile(loc).Create(ctx)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return &StagingCollisionError{Table: o.name, Location: loc, Err: err}
	} else if err != nil {
		return fmt.Errorf("table %s: error staging %s: %w", o.name, loc, err)
	}
	_, err = w.Write(b)
	if err != nil {
		w.Abort()
		return fmt.Errorf("table %s: error staging %s: %w", o.name, loc, err)
	}
	err = w.Close()
	if errors.Is(err, storage.ErrAlreadyExists) {
		return &StagingCollisionError{Table: o.name, Location: loc, Err: err}
	} else if err != nil {
		return fmt.Errorf("table %s: error staging %s: %w", o.name, loc, err)
	}
	metrics.MetadataBytesWritten.Add(float64(len(b)))
	return nil
}

func (o *Operations) deleteStaged(loc string) {
	if err := o.io.Delete(loc); err != nil {
		metrics.CleanupFailures.Inc()
		o.logger.Warn("error deleting unpublished metadata", "location", loc, "error", err)
	}
}

// cleanup deletes metadata files that fell out of the metadata log. Failures
// are only logged.
func (o *Operations) cleanup(entries []metadata.MetadataLogEntry) {
	var g errgroup.Group
	g.SetLimit(cleanupParallelism)
	for _, e := range entries {
		g.Go(func() error {
			if err := o.io.Delete(e.MetadataFile); err != nil {
				metrics.CleanupFailures.Inc()
				o.logger.Warn("error deleting old metadata", "location", e.MetadataFile, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// NewSnapshotID returns a random non-zero 63-bit snapshot id. Ids come from
// a cryptographically random UUID, so concurrent writers never need to
// coordinate.
func (o *Operations) NewSnapshotID() int64 {
	return NewSnapshotID()
}

func NewSnapshotID() int64 {
	for {
		u, err := uuid.NewRandom()
		if err != nil {
			panic(fmt.Sprintf("table: error generating snapshot id: %v", err))
		}
		hi := binary.BigEndian.Uint64(u[:8])
		lo := binary.BigEndian.Uint64(u[8:])
		id := int64((hi ^ lo) & math.MaxInt64)
		if id != 0 {
			return id
		}
	}
}

// MetadataFileLocation resolves fileName against the current metadata
// directory of the table.
func (o *Operations) MetadataFileLocation(fileName string) (string, error) {
	cur := o.Current()
	if cur == nil {
		return "", fmt.Errorf("table %s: %w", o.name, ErrNotLoaded)
	}
	return locations.ForMetadata(cur).Resolve(fileName), nil
}

func (o *Operations) IO() storage.FileIO {
	return o.io
}

// Create stages m as version 1 of a new table and registers it in the
// catalog.
func Create(ctx context.Context, cat catalog.Catalog, fio storage.FileIO, name string, m *metadata.TableMetadata, logger *slog.Logger) (*Operations, error) {
	if err := catalog.ValidateName(name); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	o := NewOperations(cat, fio, name, logger)
	loc := locations.ForMetadata(m).Resolve(locations.MetadataFileName(1))
	if err := o.stage(ctx, loc, m); err != nil {
		return nil, err
	}
	if err := cat.Create(ctx, name, loc); err != nil {
		// Anything but a definite failure may have registered the pointer.
		if errors.Is(err, catalog.ErrTableExists) || errors.Is(err, catalog.ErrNotApplied) {
			o.deleteStaged(loc)
			return nil, err
		}
		return nil, &CommitStateUnknownError{Table: name, Staged: loc, Err: err}
	}
	o.setCurrent(m.WithMetadataFileLocation(loc))
	o.logger.Info("created table", "location", loc)
	return o, nil
}
