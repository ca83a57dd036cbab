package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTableNotFound = errors.New("catalog: table not found")
	ErrTableExists   = errors.New("catalog: table already exists")
	ErrInvalidName   = errors.New("catalog: invalid table name")

	// ErrNotApplied marks a CompareAndSwap or Create error returned before
	// the pointer could have changed.
	ErrNotApplied = errors.New("catalog: pointer not changed")
)

func notApplied(err error) error {
	return fmt.Errorf("%w: %w", ErrNotApplied, err)
}

// Catalog stores the current metadata location of each table.
//
// CompareAndSwap is the only point of synchronization between writers. An
// implementation must make it atomic and strongly consistent: after it
// returns true, every CurrentLocation call observes newLocation or a later
// value. A (false, nil) result means the pointer did not equal expected. A
// non-nil error means the outcome is unknown, unless it wraps ErrNotApplied or
// ErrTableNotFound.
type Catalog interface {
	CurrentLocation(ctx context.Context, name string) (string, error)
	CompareAndSwap(ctx context.Context, name, expected, newLocation string) (bool, error)
	Create(ctx context.Context, name, location string) error
	Drop(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// ValidateName checks that name is usable as a table name by every backend.
// Names are dot or slash separated identifiers, e.g. "db.events".
func ValidateName(name string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == '/':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") ||
		strings.Contains(name, "//") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
