package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/akmistry/tablemeta/internal/catalog"
	"github.com/akmistry/tablemeta/internal/table"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
warehouse: /data/wh
catalog:
  type: postgres
  dsn: postgres://user@localhost/meta
blobstore:
  url: s3://bucket/wh
  cacheSize: 512M
retry:
  retries: 7
  minWait: 50ms
  maxWait: 2s
metrics:
  listen: ":9100"
`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Warehouse != "/data/wh" {
		t.Errorf("Warehouse %s", c.Warehouse)
	}
	if c.Catalog.Type != CatalogPostgres || c.Catalog.DSN != "postgres://user@localhost/meta" {
		t.Errorf("Catalog %+v", c.Catalog)
	}
	if c.BlobStore.StagingDir != "/data/wh/_staging" || c.BlobStore.CacheSize != "512M" {
		t.Errorf("BlobStore %+v", c.BlobStore)
	}
	opts := c.RetryOptions()
	if opts.Retries != 7 || opts.MinWait != 50*time.Millisecond || opts.MaxWait != 2*time.Second {
		t.Errorf("RetryOptions %+v", opts)
	}
	if c.Metrics.Listen != ":9100" {
		t.Errorf("Metrics.Listen %s", c.Metrics.Listen)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Warehouse != DefaultWarehouse || c.Catalog.Type != CatalogFS {
		t.Errorf("Default() %+v", c)
	}
	if c.Catalog.Root != filepath.Join(DefaultWarehouse, "_catalog") {
		t.Errorf("Catalog.Root %s", c.Catalog.Root)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Default().Validate() %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"catalog:\n  type: zookeeper\n",
		"catalog:\n  type: redis\n",
		"blobstore:\n  cacheSize: 8GB\n",
		"retry:\n  retries: -1\n",
		"retry:\n  minWait: 1s\n  maxWait: 10ms\n",
		"unknownKey: 1\n",
		"warehouse: [\n",
	}
	for _, tc := range tests {
		if _, err := Parse([]byte(tc)); err == nil {
			t.Errorf("Parse(%q) unexpected nil error", tc)
		}
	}
}

func TestRetryOptions(t *testing.T) {
	tests := []struct {
		yaml    string
		retries int
	}{
		{"", 0},
		{"retry:\n  retries: 0\n", table.NoRetries},
		{"retry:\n  retries: 3\n", 3},
	}
	for _, tc := range tests {
		c, err := Parse([]byte(tc.yaml))
		if err != nil {
			t.Fatal(err)
		}
		if r := c.RetryOptions().Retries; r != tc.retries {
			t.Errorf("Parse(%q).RetryOptions().Retries %d != %d", tc.yaml, r, tc.retries)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tablemeta.yaml")
	err := os.WriteFile(path, []byte("warehouse: "+dir+"\ncatalog:\n  type: memory\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}
	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Warehouse != dir || c.Catalog.Type != CatalogMemory {
		t.Errorf("LoadFromFile %+v", c)
	}

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("LoadFromFile(missing) unexpected nil error")
	}
}

func TestOpen_Local(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Parse([]byte("warehouse: " + dir + "\n"))
	if err != nil {
		t.Fatal(err)
	}

	cat, closeCat, err := c.OpenCatalog(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeCat()
	if _, ok := cat.(*catalog.FSCatalog); !ok {
		t.Errorf("OpenCatalog() returned %T", cat)
	}
	if err := cat.Create(ctx, "db.t", "db/t/metadata/00001-x.metadata.json"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "_catalog", "db.t", "v1.ptr")); err != nil {
		t.Errorf("pointer file not under catalog root: %v", err)
	}

	fio, err := c.OpenFileIO()
	if err != nil {
		t.Fatal(err)
	}
	w, err := fio.NewOutputFile("db/t/metadata/f.json").Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("{}"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "db", "t", "metadata", "f.json")); err != nil {
		t.Errorf("metadata file not under warehouse: %v", err)
	}
}
