package graves

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
)

const lookupQuery = `
	SELECT id, first_name, last_name, COALESCE(nickname, ''),
	       latitude, longitude,
	       COALESCE(block, ''), COALESCE(phase, ''), COALESCE(apt_no, '')
	FROM graves WHERE id = $1
`

// rowQuerier is the part of pgxpool.Pool the directory uses
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads grave records from the graves table
type PostgresDirectory struct {
	db   rowQuerier
	pool *pgxpool.Pool
}

// NewPostgresDirectory connects to dsn and verifies the connection
func NewPostgresDirectory(ctx context.Context, dsn string, maxConns int32) (*PostgresDirectory, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresDirectory{db: pool, pool: pool}, nil
}

// Lookup fetches one record. A NULL latitude or longitude yields a record without a coordinate.
func (d *PostgresDirectory) Lookup(ctx context.Context, id string) (cemetery.GraveRecord, error) {
	var (
		r        cemetery.GraveRecord
		lat, lng *float64
	)
	err := d.db.QueryRow(ctx, lookupQuery, id).Scan(
		&r.ID, &r.FirstName, &r.LastName, &r.Nickname,
		&lat, &lng,
		&r.Block, &r.Phase, &r.AptNo,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return cemetery.GraveRecord{}, fmt.Errorf("%w: %s", ErrGraveNotFound, id)
	}
	if err != nil {
		return cemetery.GraveRecord{}, fmt.Errorf("lookup grave %s: %w", id, err)
	}

	if lat != nil && lng != nil {
		r.Coordinate = &geo.Point{Latitude: *lat, Longitude: *lng}
	}
	return r, nil
}

// Close releases pool resources
func (d *PostgresDirectory) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}
