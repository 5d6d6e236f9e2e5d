// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/jcodagnone/geoconv/spatial"
)

// SQLRepository is the DuckDB backed repository.
type SQLRepository struct {
	db *sql.DB
}

// OpenDuckDB opens the database file at path, or an in-memory one when path is empty.
func OpenDuckDB(path string) (*SQLRepository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return NewSQLRepository(db), nil
}

// NewSQLRepository wraps an open DuckDB connection.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// DB returns the underlying database connection.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) CreateSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE SEQUENCE IF NOT EXISTS positions_id_seq START 1;

		CREATE TABLE IF NOT EXISTS positions (
			id BIGINT PRIMARY KEY DEFAULT nextval('positions_id_seq'),
			device_id BIGINT NOT NULL,
			fix_time TIMESTAMP NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS converted_positions (
			position_id BIGINT NOT NULL,
			platform VARCHAR NOT NULL,
			crs VARCHAR NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			h3_cell BIGINT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (position_id, platform)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}

func (r *SQLRepository) AddPosition(ctx context.Context, pos *geoconv.RawPosition) error {
	if err := pos.Point().Validate(); err != nil {
		return err
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO positions (device_id, fix_time, latitude, longitude)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, pos.DeviceID, pos.FixTime.UTC(), pos.Latitude, pos.Longitude).Scan(&pos.ID)
	if err != nil {
		return fmt.Errorf("inserting position: %w", err)
	}

	return nil
}

func (r *SQLRepository) GetPosition(ctx context.Context, id int64) (*geoconv.RawPosition, error) {
	var pos geoconv.RawPosition

	err := r.db.QueryRowContext(ctx, `
		SELECT id, device_id, fix_time, latitude, longitude
		FROM positions
		WHERE id = ?
	`, id).Scan(&pos.ID, &pos.DeviceID, &pos.FixTime, &pos.Latitude, &pos.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("querying position %d: %w", id, err)
	}

	return &pos, nil
}

const unconvertedWhere = `
	FROM positions p
	LEFT JOIN converted_positions c ON c.position_id = p.id AND c.platform = ?
	WHERE c.position_id IS NULL
	  AND p.latitude BETWEEN ? AND ?
	  AND p.longitude BETWEEN ? AND ?
`

func unconvertedArgs(platform geoconv.Platform) []any {
	b := spatial.ChinaBounds

	return []any{string(platform), b.MinLat, b.MaxLat, b.MinLng, b.MaxLng}
}

func (r *SQLRepository) FetchLatestUnconverted(ctx context.Context, platform geoconv.Platform, limit int) ([]geoconv.RawPosition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.device_id, p.fix_time, p.latitude, p.longitude`+unconvertedWhere+`ORDER BY p.id DESC LIMIT ?`,
		append(unconvertedArgs(platform), limit)...)
	if err != nil {
		return nil, fmt.Errorf("querying unconverted positions: %w", err)
	}
	defer rows.Close()

	var positions []geoconv.RawPosition

	for rows.Next() {
		var p geoconv.RawPosition
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.FixTime, &p.Latitude, &p.Longitude); err != nil {
			return nil, err
		}

		positions = append(positions, p)
	}

	return positions, rows.Err()
}

func (r *SQLRepository) CountUnconverted(ctx context.Context, platform geoconv.Platform) (int, error) {
	var n int

	err := r.db.QueryRowContext(ctx, `SELECT count(*)`+unconvertedWhere, unconvertedArgs(platform)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unconverted positions: %w", err)
	}

	return n, nil
}

func (r *SQLRepository) AppendConverted(ctx context.Context, pos geoconv.ConvertedPosition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO converted_positions (position_id, platform, crs, latitude, longitude, h3_cell)
		VALUES (?, ?, ?, ?, ?, ?)
	`, pos.PositionID, string(pos.Platform), string(pos.CRS), pos.Latitude, pos.Longitude, h3Cell(pos))
	if err != nil {
		return fmt.Errorf("inserting %s conversion of position %d: %w", pos.Platform, pos.PositionID, err)
	}

	return nil
}

func (r *SQLRepository) GetConverted(ctx context.Context, positionID int64) ([]geoconv.ConvertedPosition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position_id, platform, crs, latitude, longitude, created_at
		FROM converted_positions
		WHERE position_id = ?
		ORDER BY platform
	`, positionID)
	if err != nil {
		return nil, fmt.Errorf("querying conversions of position %d: %w", positionID, err)
	}
	defer rows.Close()

	converted := []geoconv.ConvertedPosition{}

	for rows.Next() {
		var (
			c             geoconv.ConvertedPosition
			platform, crs string
		)

		if err := rows.Scan(&c.PositionID, &platform, &crs, &c.Latitude, &c.Longitude, &c.CreatedAt); err != nil {
			return nil, err
		}

		c.Platform = geoconv.Platform(platform)
		c.CRS = geoconv.CRS(crs)
		converted = append(converted, c)
	}

	return converted, rows.Err()
}
