package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/akmistry/tablemeta/internal/catalog"
	"github.com/akmistry/tablemeta/internal/storage"
	"github.com/akmistry/tablemeta/internal/storage/cloud"
	"github.com/akmistry/tablemeta/internal/storage/local"
	"github.com/akmistry/tablemeta/internal/table"
	"github.com/akmistry/tablemeta/internal/util"
)

// Catalog backend types.
const (
	CatalogMemory   = "memory"
	CatalogFS       = "fs"
	CatalogPostgres = "postgres"
	CatalogRedis    = "redis"
)

const (
	DefaultWarehouse     = "warehouse"
	DefaultBlobCacheSize = "8G"
)

type CatalogConfig struct {
	Type string `yaml:"type"`
	// DSN is the connection string for the postgres and redis catalogs.
	DSN string `yaml:"dsn"`
	// Root is the directory of the fs catalog.
	Root string `yaml:"root"`
}

type BlobStoreConfig struct {
	// URL of an object store bucket. Metadata is kept in the local
	// warehouse directory if empty.
	URL        string `yaml:"url"`
	StagingDir string `yaml:"stagingDir"`
	CacheDir   string `yaml:"cacheDir"`
	CacheSize  string `yaml:"cacheSize"`
}

type RetryConfig struct {
	// Retries after a commit conflict. Unset uses the table's
	// commit.retry.num-retries property; 0 disables retrying.
	Retries *int          `yaml:"retries"`
	MinWait time.Duration `yaml:"minWait"`
	MaxWait time.Duration `yaml:"maxWait"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type Config struct {
	Warehouse string          `yaml:"warehouse"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	BlobStore BlobStoreConfig `yaml:"blobstore"`
	Retry     RetryConfig     `yaml:"retry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := new(Config)
	c.applyDefaults()
	return c
}

func LoadFromFile(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(buf)
}

// Parse decodes a YAML config, fills in defaults and validates it.
func Parse(buf []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.UnmarshalStrict(buf, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	util.SetDefaultIfZero(&c.Warehouse, DefaultWarehouse)
	util.SetDefaultIfZero(&c.Catalog.Type, CatalogFS)
	util.SetDefaultIfZero(&c.Catalog.Root, filepath.Join(c.Warehouse, "_catalog"))
	util.SetDefaultIfZero(&c.BlobStore.StagingDir, filepath.Join(c.Warehouse, "_staging"))
	util.SetDefaultIfZero(&c.BlobStore.CacheDir, filepath.Join(c.Warehouse, "_cache"))
	util.SetDefaultIfZero(&c.BlobStore.CacheSize, DefaultBlobCacheSize)
}

func (c *Config) Validate() error {
	switch c.Catalog.Type {
	case CatalogMemory, CatalogFS:
	case CatalogPostgres, CatalogRedis:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("config: catalog type %s requires a dsn", c.Catalog.Type)
		}
	default:
		return fmt.Errorf("config: unknown catalog type %q", c.Catalog.Type)
	}
	if _, err := util.ParseSizeString(c.BlobStore.CacheSize); err != nil {
		return fmt.Errorf("config: blobstore.cacheSize: %w", err)
	}
	if (c.Retry.Retries != nil && *c.Retry.Retries < 0) || c.Retry.MinWait < 0 || c.Retry.MaxWait < 0 {
		return fmt.Errorf("config: retry values must not be negative")
	}
	if c.Retry.MaxWait > 0 && c.Retry.MaxWait < c.Retry.MinWait {
		return fmt.Errorf("config: retry.maxWait %v < retry.minWait %v", c.Retry.MaxWait, c.Retry.MinWait)
	}
	return nil
}

func (c *Config) RetryOptions() table.RetryOptions {
	opts := table.RetryOptions{
		MinWait: c.Retry.MinWait,
		MaxWait: c.Retry.MaxWait,
	}
	if c.Retry.Retries != nil {
		opts.Retries = util.DefaultIfZero(*c.Retry.Retries, table.NoRetries)
	}
	return opts
}

// OpenCatalog connects to the configured catalog. The returned function
// releases its connections.
func (c *Config) OpenCatalog(ctx context.Context, logger *slog.Logger) (catalog.Catalog, func(), error) {
	switch c.Catalog.Type {
	case CatalogMemory:
		return catalog.NewMemoryCatalog(), func() {}, nil
	case CatalogFS:
		cat, err := catalog.NewFSCatalog(c.Catalog.Root, logger)
		if err != nil {
			return nil, nil, err
		}
		return cat, func() {}, nil
	case CatalogPostgres:
		cat, err := catalog.NewPostgresCatalog(ctx, c.Catalog.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := cat.Init(ctx); err != nil {
			cat.Close()
			return nil, nil, err
		}
		return cat, cat.Close, nil
	case CatalogRedis:
		cat, err := catalog.NewRedisCatalog(ctx, c.Catalog.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return cat, func() { cat.Close() }, nil
	}
	return nil, nil, fmt.Errorf("config: unknown catalog type %q", c.Catalog.Type)
}

// OpenFileIO returns the FileIO for metadata files: the object store if one
// is configured, otherwise the warehouse directory.
func (c *Config) OpenFileIO() (storage.FileIO, error) {
	if c.BlobStore.URL == "" {
		bs, err := local.NewBlobStore(c.Warehouse)
		if err != nil {
			return nil, err
		}
		return bs.NewFileIO(), nil
	}

	cacheSize, err := util.ParseSizeString(c.BlobStore.CacheSize)
	if err != nil {
		return nil, err
	}
	bs, err := cloud.NewBlobStore(c.BlobStore.URL, c.BlobStore.StagingDir, c.BlobStore.CacheDir, int64(cacheSize))
	if err != nil {
		return nil, err
	}
	// Metadata bypasses the staging uploader and block cache.
	return storage.NewBlobFileIO(bs.Base(), c.BlobStore.URL), nil
}
