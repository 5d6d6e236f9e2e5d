// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage persists raw and converted positions.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/jcodagnone/geoconv/spatial"
)

// ErrNotFound is returned when a position does not exist.
var ErrNotFound = errors.New("position not found")

// Supported drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// Repository stores positions and their conversions.
type Repository interface {
	geoconv.Store

	// CreateSchema creates the tables if they do not exist.
	CreateSchema(ctx context.Context) error

	// AddPosition stores a raw position and sets its ID.
	AddPosition(ctx context.Context, pos *geoconv.RawPosition) error

	// GetPosition returns a raw position or ErrNotFound.
	GetPosition(ctx context.Context, id int64) (*geoconv.RawPosition, error)

	// GetConverted returns every conversion of a position, ordered by platform.
	GetConverted(ctx context.Context, positionID int64) ([]geoconv.ConvertedPosition, error)

	// CountUnconverted counts the positions in the China region that platform
	// has not converted yet.
	CountUnconverted(ctx context.Context, platform geoconv.Platform) (int, error)

	Close() error
}

// Open connects to the repository for driver. For duckdb the dsn is a file
// path, empty for an in-memory database.
func Open(ctx context.Context, driver, dsn string) (Repository, error) {
	switch driver {
	case DriverDuckDB, "":
		repo, err := OpenDuckDB(dsn)
		if err != nil {
			return nil, err
		}

		return repo, nil
	case DriverPostgres:
		repo, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}

		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// h3Cell indexes a converted position. Points h3 cannot index are stored without a cell.
func h3Cell(pos geoconv.ConvertedPosition) sql.NullInt64 {
	cell, err := pos.Point().H3Cell(spatial.H3Resolution)
	if err != nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: cell, Valid: true}
}
