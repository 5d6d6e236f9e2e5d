// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0
package spatial

import (
	"fmt"

	"github.com/uber/h3-go/v4"
)

// H3Resolution is the resolution used when indexing stored points.
const H3Resolution = 8

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String returns a string representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Lng, p.Lat)
}

// Valid reports whether the point is within the WGS-84 coordinate ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Validate is like Valid but tells which coordinate is out of range.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("spatial: latitude out of range: %f", p.Lat)
	}

	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("spatial: longitude out of range: %f", p.Lng)
	}

	return nil
}

// H3Cell returns the H3 cell containing the point at the given resolution.
func (p Point) H3Cell(res int) (int64, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), res)
	if err != nil {
		return 0, fmt.Errorf("converting to h3 cell at res %d: %w", res, err)
	}

	return int64(cell), nil
}

// Bounds is a latitude/longitude aligned bounding box.
type Bounds struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// ChinaBounds is the coarse region in which the map platforms apply their offsets.
// Points outside of it are returned unchanged by the providers, so they are never sent.
var ChinaBounds = Bounds{
	MinLat: 0.8293,
	MaxLat: 55.8271,
	MinLng: 72.004,
	MaxLng: 137.8347,
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// OutOfChina reports whether the coordinates fall outside ChinaBounds.
func OutOfChina(lat, lng float64) bool {
	return !ChinaBounds.Contains(Point{Lat: lat, Lng: lng})
}
