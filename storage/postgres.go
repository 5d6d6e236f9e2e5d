// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jcodagnone/geoconv/geoconv"
)

// PgRepository is the PostgreSQL backed repository.
type PgRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to dsn and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PgRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	return NewPgRepository(pool), nil
}

// NewPgRepository wraps an existing pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Close() error {
	r.pool.Close()

	return nil
}

// rebind turns ? placeholders into $n.
func rebind(query string) string {
	var sb strings.Builder

	n := 0

	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))

			continue
		}

		sb.WriteRune(ch)
	}

	return sb.String()
}

func (r *PgRepository) CreateSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			device_id BIGINT NOT NULL,
			fix_time TIMESTAMPTZ NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS converted_positions (
			position_id BIGINT NOT NULL REFERENCES positions (id) ON DELETE CASCADE,
			platform TEXT NOT NULL,
			crs TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			h3_cell BIGINT,
			created_at TIMESTAMPTZ DEFAULT now(),
			PRIMARY KEY (position_id, platform)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}

func (r *PgRepository) AddPosition(ctx context.Context, pos *geoconv.RawPosition) error {
	if err := pos.Point().Validate(); err != nil {
		return err
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO positions (device_id, fix_time, latitude, longitude)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, pos.DeviceID, pos.FixTime.UTC(), pos.Latitude, pos.Longitude).Scan(&pos.ID)
	if err != nil {
		return fmt.Errorf("inserting position: %w", err)
	}

	return nil
}

func (r *PgRepository) GetPosition(ctx context.Context, id int64) (*geoconv.RawPosition, error) {
	var pos geoconv.RawPosition

	err := r.pool.QueryRow(ctx, `
		SELECT id, device_id, fix_time, latitude, longitude
		FROM positions
		WHERE id = $1
	`, id).Scan(&pos.ID, &pos.DeviceID, &pos.FixTime, &pos.Latitude, &pos.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("querying position %d: %w", id, err)
	}

	return &pos, nil
}

func (r *PgRepository) FetchLatestUnconverted(ctx context.Context, platform geoconv.Platform, limit int) ([]geoconv.RawPosition, error) {
	query := rebind(`SELECT p.id, p.device_id, p.fix_time, p.latitude, p.longitude` + unconvertedWhere + `ORDER BY p.id DESC LIMIT ?`)

	rows, err := r.pool.Query(ctx, query, append(unconvertedArgs(platform), limit)...)
	if err != nil {
		return nil, fmt.Errorf("querying unconverted positions: %w", err)
	}

	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (geoconv.RawPosition, error) {
		var p geoconv.RawPosition
		err := row.Scan(&p.ID, &p.DeviceID, &p.FixTime, &p.Latitude, &p.Longitude)

		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading unconverted positions: %w", err)
	}

	return positions, nil
}

func (r *PgRepository) CountUnconverted(ctx context.Context, platform geoconv.Platform) (int, error) {
	var n int

	err := r.pool.QueryRow(ctx, rebind(`SELECT count(*)`+unconvertedWhere), unconvertedArgs(platform)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unconverted positions: %w", err)
	}

	return n, nil
}

func (r *PgRepository) AppendConverted(ctx context.Context, pos geoconv.ConvertedPosition) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO converted_positions (position_id, platform, crs, latitude, longitude, h3_cell)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pos.PositionID, string(pos.Platform), string(pos.CRS), pos.Latitude, pos.Longitude, h3Cell(pos))
	if err != nil {
		return fmt.Errorf("inserting %s conversion of position %d: %w", pos.Platform, pos.PositionID, err)
	}

	return nil
}

func (r *PgRepository) GetConverted(ctx context.Context, positionID int64) ([]geoconv.ConvertedPosition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT position_id, platform, crs, latitude, longitude, created_at
		FROM converted_positions
		WHERE position_id = $1
		ORDER BY platform
	`, positionID)
	if err != nil {
		return nil, fmt.Errorf("querying conversions of position %d: %w", positionID, err)
	}

	converted, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (geoconv.ConvertedPosition, error) {
		var (
			c             geoconv.ConvertedPosition
			platform, crs string
		)

		err := row.Scan(&c.PositionID, &platform, &crs, &c.Latitude, &c.Longitude, &c.CreatedAt)
		c.Platform = geoconv.Platform(platform)
		c.CRS = geoconv.CRS(crs)

		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading conversions of position %d: %w", positionID, err)
	}

	if converted == nil {
		converted = []geoconv.ConvertedPosition{}
	}

	return converted, nil
}
