// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"encoding/json"
	"errors"

	"github.com/jcodagnone/geoconv/spatial"
	"github.com/jcodagnone/geoconv/utils/signutils"
)

var errMissingCoordinate = errors.New("location without coordinates")

// Tencent converts through the Tencent Location Service.
//
// See https://lbs.qq.com/service/webService/webServiceGuide/webServiceTranslate
type Tencent struct {
	base
}

// NewTencent creates the Tencent provider.
func NewTencent(creds Credentials, opts ...Option) *Tencent {
	return &Tencent{base: newBase(PlatformTencent, CRSGCJ02, ProviderConfig{
		Credentials: creds,
		Endpoint:    "https://apis.map.qq.com/ws/coord/v1/translate",
		Quota:       Quota{BatchSize: 100, PerSecond: 5, PerDay: 8000},
	}, opts)}
}

func (t *Tencent) Signer() signutils.Signer {
	return signutils.Signer{Secret: t.config.Secret, Param: "sig", WithPath: true, URLEncode: true}
}

// type=1 declares the input as GPS coordinates.
func (t *Tencent) Params(positions []RawPosition) (*signutils.Params, error) {
	return paramsOf(
		"key", t.config.Key,
		"locations", encodePositions(positions, ";", true),
		"type", "1",
		"output", "json",
	)
}

type tencentResponse struct {
	Status    *int   `json:"status"`
	Message   string `json:"message"`
	Locations []struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"locations"`
}

func (t *Tencent) Decode(body []byte) ([]spatial.Point, error) {
	var resp tencentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseError(t.platform, err)
	}

	if resp.Status == nil || *resp.Status != 0 {
		return nil, providerError(t.platform, resp.Message)
	}

	points := make([]spatial.Point, 0, len(resp.Locations))

	for _, l := range resp.Locations {
		if l.Lat == nil || l.Lng == nil {
			return nil, parseError(t.platform, errMissingCoordinate)
		}

		points = append(points, spatial.Point{Lat: *l.Lat, Lng: *l.Lng})
	}

	return points, nil
}
