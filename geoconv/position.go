// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package geoconv converts raw GPS positions into the coordinate systems used by
// the Chinese map platforms by delegating to their web services.
package geoconv

import (
	"context"
	"fmt"
	"time"

	"github.com/jcodagnone/geoconv/spatial"
)

// Platform identifies a map platform.
type Platform string

// Supported platforms.
const (
	PlatformAutoNavi Platform = "autonavi"
	PlatformBaidu    Platform = "baidu"
	PlatformTencent  Platform = "tencent"
)

// Platforms returns every supported platform, in scheduling order.
func Platforms() []Platform {
	return []Platform{PlatformAutoNavi, PlatformBaidu, PlatformTencent}
}

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range Platforms() {
		if string(p) == s {
			return p, nil
		}
	}

	return "", fmt.Errorf("unknown platform %q", s)
}

// CRS is the coordinate reference system converted values are expressed in.
type CRS string

// Coordinate systems produced by the platforms.
const (
	CRSGCJ02 CRS = "gcj02"
	CRSBD09  CRS = "bd09"
)

// RawPosition is a WGS-84 position as recorded by a device.
type RawPosition struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	FixTime   time.Time `json:"fix_time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Point returns the position coordinates.
func (p RawPosition) Point() spatial.Point {
	return spatial.Point{Lat: p.Latitude, Lng: p.Longitude}
}

// ConvertedPosition is a raw position expressed in a platform CRS.
type ConvertedPosition struct {
	PositionID int64     `json:"position_id"`
	Platform   Platform  `json:"platform"`
	CRS        CRS       `json:"crs"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// NewConvertedPosition builds a converted position, rejecting out of range values.
func NewConvertedPosition(positionID int64, platform Platform, crs CRS, pt spatial.Point) (ConvertedPosition, error) {
	if err := pt.Validate(); err != nil {
		return ConvertedPosition{}, err
	}

	return ConvertedPosition{
		PositionID: positionID,
		Platform:   platform,
		CRS:        crs,
		Latitude:   pt.Lat,
		Longitude:  pt.Lng,
	}, nil
}

// Point returns the converted coordinates.
func (p ConvertedPosition) Point() spatial.Point {
	return spatial.Point{Lat: p.Latitude, Lng: p.Longitude}
}

// Store is the persistence contract consumed by the pollers.
type Store interface {
	// FetchLatestUnconverted returns up to limit positions inside the China
	// region that have no conversion for platform yet, newest first.
	FetchLatestUnconverted(ctx context.Context, platform Platform, limit int) ([]RawPosition, error)
	// AppendConverted persists one converted position.
	AppendConverted(ctx context.Context, pos ConvertedPosition) error
}
