package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ = (Catalog)((*MemoryCatalog)(nil))

// MemoryCatalog keeps table pointers in process memory. Operations are
// linearizable within the process.
type MemoryCatalog struct {
	lock   sync.Mutex
	tables map[string]string
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		tables: make(map[string]string),
	}
}

func (c *MemoryCatalog) CurrentLocation(ctx context.Context, name string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	loc, ok := c.tables[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return loc, nil
}

func (c *MemoryCatalog) CompareAndSwap(ctx context.Context, name, expected, newLocation string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, notApplied(err)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	loc, ok := c.tables[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if loc != expected {
		return false, nil
	}
	c.tables[name] = newLocation
	return true, nil
}

func (c *MemoryCatalog) Create(ctx context.Context, name, location string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.tables[name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	c.tables[name] = location
	return nil
}

func (c *MemoryCatalog) Drop(ctx context.Context, name string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	delete(c.tables, name)
	return nil
}

func (c *MemoryCatalog) List(ctx context.Context) ([]string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
