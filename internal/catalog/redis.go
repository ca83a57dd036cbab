package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "tablemeta:"

// Redis runs scripts one at a time, so the compare and the set cannot
// interleave with another writer.
var casScript = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
	return -1
end
if cur ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`)

var _ = (Catalog)((*RedisCatalog)(nil))

// RedisCatalog stores each pointer under <prefix>table:<name> and the set of
// table names under <prefix>tables. It is linearizable when pointed at a
// single primary. Replicas that are read from may return stale locations,
// which only causes extra conflicts.
type RedisCatalog struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisCatalog connects to the server at url, e.g. redis://host:6379/0.
func NewRedisCatalog(ctx context.Context, url string, logger *slog.Logger) (*RedisCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("catalog.RedisCatalog: parse url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("catalog.RedisCatalog: ping: %w", err)
	}
	return &RedisCatalog{
		client: client,
		prefix: DefaultRedisPrefix,
		logger: logger.With("catalog", "redis"),
	}, nil
}

func (c *RedisCatalog) Close() error {
	return c.client.Close()
}

func (c *RedisCatalog) key(name string) string {
	return c.prefix + "table:" + name
}

func (c *RedisCatalog) namesKey() string {
	return c.prefix + "tables"
}

func (c *RedisCatalog) CurrentLocation(ctx context.Context, name string) (string, error) {
	loc, err := c.client.Get(ctx, c.key(name)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, name)
	} else if err != nil {
		return "", fmt.Errorf("catalog.RedisCatalog: get %s: %w", name, err)
	}
	return loc, nil
}

func (c *RedisCatalog) CompareAndSwap(ctx context.Context, name, expected, newLocation string) (bool, error) {
	res, err := casScript.Run(ctx, c.client, []string{c.key(name)}, expected, newLocation).Int()
	if err != nil {
		return false, fmt.Errorf("catalog.RedisCatalog: cas %s: %w", name, err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	c.logger.Debug("pointer moved", "table", name, "expected", expected)
	return false, nil
}

func (c *RedisCatalog) Create(ctx context.Context, name, location string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	ok, err := c.client.SetNX(ctx, c.key(name), location, 0).Result()
	if err != nil {
		return fmt.Errorf("catalog.RedisCatalog: create %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	if err := c.client.SAdd(ctx, c.namesKey(), name).Err(); err != nil {
		return fmt.Errorf("catalog.RedisCatalog: create %s: %w", name, err)
	}
	return nil
}

func (c *RedisCatalog) Drop(ctx context.Context, name string) error {
	n, err := c.client.Del(ctx, c.key(name)).Result()
	if err != nil {
		return fmt.Errorf("catalog.RedisCatalog: drop %s: %w", name, err)
	}
	if err := c.client.SRem(ctx, c.namesKey(), name).Err(); err != nil {
		return fmt.Errorf("catalog.RedisCatalog: drop %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return nil
}

func (c *RedisCatalog) List(ctx context.Context) ([]string, error) {
	names, err := c.client.SMembers(ctx, c.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("catalog.RedisCatalog: list: %w", err)
	}
	slices.Sort(names)
	return names, nil
}
