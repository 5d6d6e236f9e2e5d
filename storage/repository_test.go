// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/jcodagnone/geoconv/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDuckDB(t *testing.T) Repository {
	t.Helper()

	repo, err := OpenDuckDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.CreateSchema(context.Background()))

	return repo
}

func setupPostgres(t *testing.T) Repository {
	t.Helper()

	dsn := os.Getenv("GEOCONV_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GEOCONV_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()

	repo, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = repo.pool.Exec(ctx, `DROP TABLE IF EXISTS converted_positions; DROP TABLE IF EXISTS positions;`)
	require.NoError(t, err)
	require.NoError(t, repo.CreateSchema(ctx))

	return repo
}

func TestRepositories(t *testing.T) {
	backends := map[string]func(*testing.T) Repository{
		DriverDuckDB:   setupDuckDB,
		DriverPostgres: setupPostgres,
	}

	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("AddAndGetPosition", func(t *testing.T) { testAddAndGetPosition(t, setup(t)) })
			t.Run("FetchLatestUnconverted", func(t *testing.T) { testFetchLatestUnconverted(t, setup(t)) })
			t.Run("AppendConverted", func(t *testing.T) { testAppendConverted(t, setup(t)) })
			t.Run("DuplicateConversion", func(t *testing.T) { testDuplicateConversion(t, setup(t)) })
			t.Run("SchemaIsIdempotent", func(t *testing.T) {
				repo := setup(t)
				assert.NoError(t, repo.CreateSchema(context.Background()))
			})
		})
	}
}

func addPositions(t *testing.T, repo Repository, points ...spatial.Point) []int64 {
	t.Helper()

	ids := make([]int64, 0, len(points))
	fix := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)

	for i, pt := range points {
		pos := geoconv.RawPosition{
			DeviceID:  42,
			FixTime:   fix.Add(time.Duration(i) * time.Minute),
			Latitude:  pt.Lat,
			Longitude: pt.Lng,
		}
		require.NoError(t, repo.AddPosition(context.Background(), &pos))
		require.NotZero(t, pos.ID)

		ids = append(ids, pos.ID)
	}

	return ids
}

var (
	beijing    = spatial.Point{Lat: 39.9042, Lng: 116.4074}
	shanghai   = spatial.Point{Lat: 31.2304, Lng: 121.4737}
	shenzhen   = spatial.Point{Lat: 22.5431, Lng: 114.0579}
	montevideo = spatial.Point{Lat: -34.9011, Lng: -56.1645}
)

func testAddAndGetPosition(t *testing.T, repo Repository) {
	ctx := context.Background()
	ids := addPositions(t, repo, beijing, shanghai)
	assert.Less(t, ids[0], ids[1], "ids grow")

	got, err := repo.GetPosition(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.DeviceID)
	assert.Equal(t, shanghai, got.Point())
	assert.True(t, got.FixTime.Equal(time.Date(2025, 3, 1, 8, 31, 0, 0, time.UTC)), "fix time %s", got.FixTime)

	_, err = repo.GetPosition(ctx, ids[1]+100)
	assert.ErrorIs(t, err, ErrNotFound)

	bad := geoconv.RawPosition{Latitude: 91, Longitude: 0}
	assert.Error(t, repo.AddPosition(ctx, &bad))
}

func testFetchLatestUnconverted(t *testing.T, repo Repository) {
	ctx := context.Background()
	ids := addPositions(t, repo, beijing, montevideo, shanghai, shenzhen)

	got, err := repo.FetchLatestUnconverted(ctx, geoconv.PlatformBaidu, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{ids[3], ids[2], ids[0]}, positionIDs(got), "newest first, out of China skipped")

	got, err = repo.FetchLatestUnconverted(ctx, geoconv.PlatformBaidu, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[3], ids[2]}, positionIDs(got))

	c, err := geoconv.NewConvertedPosition(ids[3], geoconv.PlatformBaidu, geoconv.CRSBD09, shenzhen)
	require.NoError(t, err)
	require.NoError(t, repo.AppendConverted(ctx, c))

	got, err = repo.FetchLatestUnconverted(ctx, geoconv.PlatformBaidu, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[2], ids[0]}, positionIDs(got))

	got, err = repo.FetchLatestUnconverted(ctx, geoconv.PlatformTencent, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3, "conversions are tracked per platform")

	n, err := repo.CountUnconverted(ctx, geoconv.PlatformBaidu)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.CountUnconverted(ctx, geoconv.PlatformAutoNavi)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testAppendConverted(t *testing.T, repo Repository) {
	ctx := context.Background()
	ids := addPositions(t, repo, beijing)

	for _, c := range []struct {
		platform geoconv.Platform
		crs      geoconv.CRS
		pt       spatial.Point
	}{
		{geoconv.PlatformTencent, geoconv.CRSGCJ02, spatial.Point{Lat: 39.905599, Lng: 116.413641}},
		{geoconv.PlatformBaidu, geoconv.CRSBD09, spatial.Point{Lat: 39.911963, Lng: 116.420013}},
	} {
		pos, err := geoconv.NewConvertedPosition(ids[0], c.platform, c.crs, c.pt)
		require.NoError(t, err)
		require.NoError(t, repo.AppendConverted(ctx, pos))
	}

	got, err := repo.GetConverted(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, geoconv.PlatformBaidu, got[0].Platform)
	assert.Equal(t, geoconv.CRSBD09, got[0].CRS)
	assert.InDelta(t, 39.911963, got[0].Latitude, 1e-9)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.Equal(t, geoconv.PlatformTencent, got[1].Platform)

	none, err := repo.GetConverted(ctx, ids[0]+1)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testDuplicateConversion(t *testing.T, repo Repository) {
	ctx := context.Background()
	ids := addPositions(t, repo, beijing)

	pos, err := geoconv.NewConvertedPosition(ids[0], geoconv.PlatformAutoNavi, geoconv.CRSGCJ02, beijing)
	require.NoError(t, err)

	require.NoError(t, repo.AppendConverted(ctx, pos))
	assert.Error(t, repo.AppendConverted(ctx, pos), "one conversion per position and platform")
}

func positionIDs(positions []geoconv.RawPosition) []int64 {
	ids := make([]int64, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
	}

	return ids
}

func TestH3CellIsStored(t *testing.T) {
	repo, err := OpenDuckDB("")
	require.NoError(t, err)

	defer repo.Close()

	ctx := context.Background()
	require.NoError(t, repo.CreateSchema(ctx))

	ids := addPositions(t, repo, beijing)
	pos, err := geoconv.NewConvertedPosition(ids[0], geoconv.PlatformTencent, geoconv.CRSGCJ02, beijing)
	require.NoError(t, err)
	require.NoError(t, repo.AppendConverted(ctx, pos))

	want, err := beijing.H3Cell(spatial.H3Resolution)
	require.NoError(t, err)

	var got int64
	require.NoError(t, repo.DB().QueryRow(`SELECT h3_cell FROM converted_positions WHERE position_id = ?`, ids[0]).Scan(&got))
	assert.Equal(t, want, got)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b BETWEEN $2 AND $3", rebind("a = ? AND b BETWEEN ? AND ?"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}

func TestOpenUnknownDriver(t *testing.T) {
	for _, driver := range []string{"sqlite", "pgx", "postgresql", "DuckDB"} {
		_, err := Open(context.Background(), driver, "")
		assert.Error(t, err, driver)
	}
}
