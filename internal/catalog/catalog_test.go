package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

func runCatalogTests(t *testing.T, newCatalog func(t *testing.T) Catalog) {
	t.Run("CreateAndGet", func(t *testing.T) {
		testCreateAndGet(t, newCatalog(t))
	})
	t.Run("CompareAndSwap", func(t *testing.T) {
		testCompareAndSwap(t, newCatalog(t))
	})
	t.Run("ConcurrentCompareAndSwap", func(t *testing.T) {
		testConcurrentCompareAndSwap(t, newCatalog(t))
	})
	t.Run("DropAndList", func(t *testing.T) {
		testDropAndList(t, newCatalog(t))
	})
}

func testCreateAndGet(t *testing.T, c Catalog) {
	ctx := context.Background()

	_, err := c.CurrentLocation(ctx, "db.missing")
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("CurrentLocation(missing) error %v != ErrTableNotFound", err)
	}

	err = c.Create(ctx, "db.events", "loc-1")
	if err != nil {
		t.Fatalf("Create error %v", err)
	}
	err = c.Create(ctx, "db.events", "loc-other")
	if !errors.Is(err, ErrTableExists) {
		t.Errorf("second Create error %v != ErrTableExists", err)
	}

	loc, err := c.CurrentLocation(ctx, "db.events")
	if err != nil {
		t.Fatal(err)
	}
	if loc != "loc-1" {
		t.Errorf("CurrentLocation() %s != loc-1", loc)
	}
}

func testCompareAndSwap(t *testing.T, c Catalog) {
	ctx := context.Background()

	_, err := c.CompareAndSwap(ctx, "db.missing", "a", "b")
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("CompareAndSwap(missing) error %v != ErrTableNotFound", err)
	}

	if err := c.Create(ctx, "db.t", "loc-1"); err != nil {
		t.Fatal(err)
	}
	ok, err := c.CompareAndSwap(ctx, "db.t", "loc-1", "loc-2")
	if err != nil || !ok {
		t.Fatalf("CompareAndSwap(loc-1, loc-2) %v, %v", ok, err)
	}
	ok, err = c.CompareAndSwap(ctx, "db.t", "loc-1", "loc-3")
	if err != nil || ok {
		t.Errorf("stale CompareAndSwap(loc-1, loc-3) %v, %v", ok, err)
	}
	loc, err := c.CurrentLocation(ctx, "db.t")
	if err != nil {
		t.Fatal(err)
	}
	if loc != "loc-2" {
		t.Errorf("CurrentLocation() %s != loc-2", loc)
	}
}

func testConcurrentCompareAndSwap(t *testing.T, c Catalog) {
	const writers = 16
	ctx := context.Background()
	if err := c.Create(ctx, "db.race", "base"); err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var winner atomic.Value
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		loc := fmt.Sprintf("writer-%d", i)
		g.Go(func() error {
			ok, err := c.CompareAndSwap(ctx, "db.race", "base", loc)
			if err != nil {
				return err
			}
			if ok {
				wins.Add(1)
				winner.Store(loc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if wins.Load() != 1 {
		t.Fatalf("%d writers won, expected exactly 1", wins.Load())
	}
	loc, err := c.CurrentLocation(ctx, "db.race")
	if err != nil {
		t.Fatal(err)
	}
	if loc != winner.Load().(string) {
		t.Errorf("CurrentLocation() %s != winner %s", loc, winner.Load())
	}
}

func testDropAndList(t *testing.T, c Catalog) {
	ctx := context.Background()
	for _, name := range []string{"db.b", "db.a", "other/c"} {
		if err := c.Create(ctx, name, "loc-"+name); err != nil {
			t.Fatal(err)
		}
	}
	names, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"db.a", "db.b", "other/c"}) {
		t.Errorf("List() %v", names)
	}

	if err := c.Drop(ctx, "db.a"); err != nil {
		t.Fatal(err)
	}
	if err := c.Drop(ctx, "db.a"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("second Drop error %v != ErrTableNotFound", err)
	}
	if _, err := c.CurrentLocation(ctx, "db.a"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("CurrentLocation(dropped) error %v", err)
	}
	names, err = c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"db.b", "other/c"}) {
		t.Errorf("List() after drop %v", names)
	}

	// Dropped names can be reused.
	if err := c.Create(ctx, "db.a", "loc-new"); err != nil {
		t.Errorf("re-Create error %v", err)
	}
}

func TestMemoryCatalog(t *testing.T) {
	runCatalogTests(t, func(t *testing.T) Catalog {
		return NewMemoryCatalog()
	})
}

func newTestFSCatalog(t *testing.T) *FSCatalog {
	c, err := NewFSCatalog(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFSCatalog(t *testing.T) {
	runCatalogTests(t, func(t *testing.T) Catalog {
		return newTestFSCatalog(t)
	})
}

func TestFSCatalog_StaleHint(t *testing.T) {
	ctx := context.Background()
	c := newTestFSCatalog(t)
	if err := c.Create(ctx, "db.t", "loc-1"); err != nil {
		t.Fatal(err)
	}
	for i := 2; i <= 4; i++ {
		ok, err := c.CompareAndSwap(ctx, "db.t", fmt.Sprintf("loc-%d", i-1), fmt.Sprintf("loc-%d", i))
		if err != nil || !ok {
			t.Fatalf("CompareAndSwap %d: %v, %v", i, ok, err)
		}
	}

	dir := c.tableDir("db.t")
	for _, hint := range []string{"2\n", "garbage", "99\n"} {
		err := os.WriteFile(filepath.Join(dir, versionHintFile), []byte(hint), 0644)
		if err != nil {
			t.Fatal(err)
		}
		loc, err := c.CurrentLocation(ctx, "db.t")
		if err != nil {
			t.Fatal(err)
		}
		if loc != "loc-4" {
			t.Errorf("hint %q: CurrentLocation() %s != loc-4", hint, loc)
		}
	}

	os.Remove(filepath.Join(dir, versionHintFile))
	loc, err := c.CurrentLocation(ctx, "db.t")
	if err != nil || loc != "loc-4" {
		t.Errorf("no hint: CurrentLocation() %s, %v", loc, err)
	}
}

func TestCompareAndSwap_Cancelled(t *testing.T) {
	for name, c := range map[string]Catalog{
		"memory": NewMemoryCatalog(),
		"fs":     newTestFSCatalog(t),
	} {
		if err := c.Create(context.Background(), "db.t", "loc-1"); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ok, err := c.CompareAndSwap(ctx, "db.t", "loc-1", "loc-2")
		if ok || !errors.Is(err, ErrNotApplied) || !errors.Is(err, context.Canceled) {
			t.Errorf("%s: CompareAndSwap (%v, %v) != (false, ErrNotApplied)", name, ok, err)
		}
		loc, _ := c.CurrentLocation(context.Background(), "db.t")
		if loc != "loc-1" {
			t.Errorf("%s: CurrentLocation() %s != loc-1", name, loc)
		}
	}
}

func TestFSCatalog_DropOrder(t *testing.T) {
	ctx := context.Background()
	c := newTestFSCatalog(t)
	if err := c.Create(ctx, "db.t", "loc-1"); err != nil {
		t.Fatal(err)
	}
	for i := 2; i <= 11; i++ {
		ok, err := c.CompareAndSwap(ctx, "db.t", fmt.Sprintf("loc-%d", i-1), fmt.Sprintf("loc-%d", i))
		if err != nil || !ok {
			t.Fatalf("CompareAndSwap %d: %v, %v", i, ok, err)
		}
	}

	dir := c.tableDir("db.t")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	order := dropOrder(entries)
	expected := []string{versionHintFile}
	for v := 11; v >= 1; v-- {
		expected = append(expected, fmt.Sprintf("v%d.ptr", v))
	}
	if !slices.Equal(order, expected) {
		t.Errorf("dropOrder() %v != %v", order, expected)
	}

	// A drop interrupted after the first few removals leaves a listed table
	// that can be dropped again.
	for _, f := range order[:5] {
		if err := os.Remove(filepath.Join(dir, f)); err != nil {
			t.Fatal(err)
		}
	}
	names, err := c.List(ctx)
	if err != nil || !slices.Contains(names, "db.t") {
		t.Errorf("List() %v, %v after interrupted drop", names, err)
	}
	if err := c.Drop(ctx, "db.t"); err != nil {
		t.Errorf("Drop() error %v", err)
	}
	names, _ = c.List(ctx)
	if slices.Contains(names, "db.t") {
		t.Errorf("table listed after drop")
	}
	if err := c.Create(ctx, "db.t", "loc-new"); err != nil {
		t.Errorf("Create() after drop error %v", err)
	}
}

func TestFSCatalog_CorruptPointer(t *testing.T) {
	ctx := context.Background()
	c := newTestFSCatalog(t)
	if err := c.Create(ctx, "db.t", "loc-1"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(c.tableDir("db.t"), pointerName(1))
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] ^= 0xff
	// Pointer files are hard links to published temp files, so replace
	// rather than modify in place.
	os.Remove(path)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}

	_, err = c.CurrentLocation(ctx, "db.t")
	if !errors.Is(err, ErrCorruptPointer) {
		t.Errorf("CurrentLocation() error %v != ErrCorruptPointer", err)
	}
}

func TestPointerRecord(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ptr")
	if err != nil {
		t.Fatal(err)
	}
	p := &pointer{location: "s3://bucket/t/metadata/00003-x.metadata.json", version: 3, timestamp: 1700000000000}
	if err := writePointer(f, p); err != nil {
		t.Fatal(err)
	}
	f.Close()

	read, err := readPointer(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if *read != *p {
		t.Errorf("readPointer() %+v != %+v", *read, *p)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"events", true},
		{"db.events", true},
		{"ns/db/events_2024-01", true},
		{"", false},
		{"../escape", false},
		{"db..events", false},
		{"/abs", false},
		{"trailing/", false},
		{".hidden", false},
		{"white space", false},
		{"a//b", false},
	}
	for _, tc := range tests {
		err := ValidateName(tc.name)
		if tc.valid && err != nil {
			t.Errorf("ValidateName(%q) unexpected error %v", tc.name, err)
		} else if !tc.valid && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) error %v != ErrInvalidName", tc.name, err)
		}
	}
}
