// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"encoding/json"

	"github.com/jcodagnone/geoconv/spatial"
	"github.com/jcodagnone/geoconv/utils/signutils"
)

// Baidu converts through the Baidu Maps geoconv v2 service.
//
// See https://lbsyun.baidu.com/faq/api?title=webapi/guide/changeposition-base
type Baidu struct {
	base
}

// NewBaidu creates the Baidu provider.
func NewBaidu(creds Credentials, opts ...Option) *Baidu {
	return &Baidu{base: newBase(PlatformBaidu, CRSBD09, ProviderConfig{
		Credentials: creds,
		Endpoint:    "https://api.map.baidu.com/geoconv/v2/",
		Quota:       Quota{BatchSize: 30, PerSecond: 3, PerDay: 5000},
	}, opts)}
}

func (b *Baidu) Signer() signutils.Signer {
	return signutils.Signer{Secret: b.config.Secret, Param: "sn", WithPath: true, URLEncode: true}
}

// model=2 asks for WGS-84 to BD-09.
func (b *Baidu) Params(positions []RawPosition) (*signutils.Params, error) {
	return paramsOf(
		"coords", encodePositions(positions, ";", false),
		"ak", b.config.Key,
		"model", "2",
		"output", "json",
	)
}

type baiduResponse struct {
	Status  *int   `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	} `json:"result"`
}

func (b *Baidu) Decode(body []byte) ([]spatial.Point, error) {
	var resp baiduResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseError(b.platform, err)
	}

	if resp.Status == nil || *resp.Status != 0 {
		return nil, providerError(b.platform, resp.Message)
	}

	points := make([]spatial.Point, 0, len(resp.Result))

	for _, r := range resp.Result {
		if r.X == nil || r.Y == nil {
			return nil, parseError(b.platform, errMissingCoordinate)
		}

		points = append(points, spatial.Point{Lat: *r.Y, Lng: *r.X})
	}

	return points, nil
}
