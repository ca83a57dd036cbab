package table

import (
	"errors"
	"fmt"
)

var (
	// ErrCommitConflict matches every *CommitConflictError.
	ErrCommitConflict = errors.New("table: commit conflict")
	ErrNotLoaded      = errors.New("table: no current metadata, refresh first")
)

// CommitConflictError means the commit was not applied because base was not
// current. The caller should refresh, re-derive its change and commit again.
type CommitConflictError struct {
	Table string
	// Base is the metadata location the commit was derived from.
	Base string
	// Staged is the metadata file written for the rejected commit. It is
	// empty if the conflict was detected before staging.
	Staged string
}

func (e *CommitConflictError) Error() string {
	if e.Staged == "" {
		return fmt.Sprintf("table %s: commit conflict: base %s is not current", e.Table, e.Base)
	}
	return fmt.Sprintf("table %s: commit conflict: pointer moved from base %s, %s not published",
		e.Table, e.Base, e.Staged)
}

func (e *CommitConflictError) Is(target error) bool {
	return target == ErrCommitConflict
}

// ReadError is returned by Refresh when the current metadata file cannot be
// read.
type ReadError struct {
	Table    string
	Location string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("table %s: error reading metadata %s: %v", e.Table, e.Location, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// CorruptMetadataError is returned by Refresh when the current metadata file
// was read but could not be decoded. It matches metadata.ErrInvalidMetadata.
type CorruptMetadataError struct {
	Table    string
	Location string
	Err      error
}

func (e *CorruptMetadataError) Error() string {
	return fmt.Sprintf("table %s: corrupt metadata %s: %v", e.Table, e.Location, e.Err)
}

func (e *CorruptMetadataError) Unwrap() error {
	return e.Err
}

// StagingCollisionError means the new metadata file location already had
// content. It matches storage.ErrAlreadyExists. Retrying the same location
// cannot succeed.
type StagingCollisionError struct {
	Table    string
	Location string
	Err      error
}

func (e *StagingCollisionError) Error() string {
	return fmt.Sprintf("table %s: staged metadata location %s already exists: %v", e.Table, e.Location, e.Err)
}

func (e *StagingCollisionError) Unwrap() error {
	return e.Err
}

// CommitStateUnknownError means the pointer swap failed in a way that does
// not say whether it was applied. The staged file is kept, since it may now be
// current. Callers must refresh and check before retrying.
type CommitStateUnknownError struct {
	Table  string
	Staged string
	Err    error
}

func (e *CommitStateUnknownError) Error() string {
	return fmt.Sprintf("table %s: commit state unknown for %s: %v", e.Table, e.Staged, e.Err)
}

func (e *CommitStateUnknownError) Unwrap() error {
	return e.Err
}
