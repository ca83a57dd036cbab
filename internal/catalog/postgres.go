package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultPostgresTable = "tablemeta_tables"

var _ = (Catalog)((*PostgresCatalog)(nil))

// PostgresCatalog keeps one row per table. CompareAndSwap is a conditional
// UPDATE on the row, which PostgreSQL serializes with the row lock, so it is
// linearizable.
type PostgresCatalog struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// NewPostgresCatalog connects to the database at connString. Call Init to
// create the backing table.
func NewPostgresCatalog(ctx context.Context, connString string, logger *slog.Logger) (*PostgresCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("catalog.PostgresCatalog: connect: %w", err)
	}
	return &PostgresCatalog{
		pool:   pool,
		table:  pgx.Identifier{DefaultPostgresTable}.Sanitize(),
		logger: logger.With("catalog", "postgres"),
	}, nil
}

func (c *PostgresCatalog) Close() {
	c.pool.Close()
}

// Init creates the pointer table if it doesn't exist.
func (c *PostgresCatalog) Init(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+c.table+` (
			name       TEXT PRIMARY KEY,
			location   TEXT NOT NULL,
			version    BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("catalog.PostgresCatalog: create table: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) CurrentLocation(ctx context.Context, name string) (string, error) {
	var loc string
	err := c.pool.QueryRow(ctx,
		"SELECT location FROM "+c.table+" WHERE name = $1", name,
	).Scan(&loc)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, name)
	} else if err != nil {
		return "", fmt.Errorf("catalog.PostgresCatalog: select %s: %w", name, err)
	}
	return loc, nil
}

func (c *PostgresCatalog) CompareAndSwap(ctx context.Context, name, expected, newLocation string) (bool, error) {
	tag, err := c.pool.Exec(ctx,
		"UPDATE "+c.table+" SET location = $3, version = version + 1, updated_at = now() "+
			"WHERE name = $1 AND location = $2",
		name, expected, newLocation,
	)
	if err != nil {
		return false, fmt.Errorf("catalog.PostgresCatalog: update %s: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// The update did not apply. Only report an error if the table is gone.
	_, err = c.CurrentLocation(ctx, name)
	if errors.Is(err, ErrTableNotFound) {
		return false, err
	}
	c.logger.Debug("pointer moved", "table", name, "expected", expected, "error", err)
	return false, nil
}

func (c *PostgresCatalog) Create(ctx context.Context, name, location string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx,
		"INSERT INTO "+c.table+" (name, location) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		name, location,
	)
	if err != nil {
		return fmt.Errorf("catalog.PostgresCatalog: insert %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	return nil
}

func (c *PostgresCatalog) Drop(ctx context.Context, name string) error {
	tag, err := c.pool.Exec(ctx, "DELETE FROM "+c.table+" WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("catalog.PostgresCatalog: delete %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return nil
}

func (c *PostgresCatalog) List(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, "SELECT name FROM "+c.table+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("catalog.PostgresCatalog: list: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("catalog.PostgresCatalog: list: %w", err)
	}
	return names, nil
}
