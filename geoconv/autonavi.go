// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jcodagnone/geoconv/spatial"
	"github.com/jcodagnone/geoconv/utils/signutils"
)

// AutoNavi converts through the Amap web service.
//
// See https://lbs.amap.com/api/webservice/guide/api/convert and
// https://lbs.amap.com/faq/quota-key/key/41181 for the signing rules.
type AutoNavi struct {
	base
}

// NewAutoNavi creates the Amap provider.
func NewAutoNavi(creds Credentials, opts ...Option) *AutoNavi {
	return &AutoNavi{base: newBase(PlatformAutoNavi, CRSGCJ02, ProviderConfig{
		Credentials: creds,
		Endpoint:    "https://restapi.amap.com/v3/assistant/coordinate/convert",
		Quota:       Quota{BatchSize: 40, PerSecond: 3, PerDay: 5000},
	}, opts)}
}

func (a *AutoNavi) Signer() signutils.Signer {
	return signutils.Signer{Secret: a.config.Secret, Param: "sig", URLEncode: true}
}

func (a *AutoNavi) Params(positions []RawPosition) (*signutils.Params, error) {
	return paramsOf(
		"key", a.config.Key,
		"locations", encodePositions(positions, "|", false),
		"coordsys", "gps",
		"output", "json",
	)
}

type autoNaviResponse struct {
	Status    json.RawMessage `json:"status"`
	Info      string          `json:"info"`
	InfoCode  string          `json:"infocode"`
	Locations string          `json:"locations"`
}

// ok accepts the integer 0 sentinel, and the "1"/"10000" string envelope the
// v3 endpoints answer with.
func (r *autoNaviResponse) ok() bool {
	var code int
	if err := json.Unmarshal(r.Status, &code); err == nil {
		return code == 0
	}

	var s string
	if err := json.Unmarshal(r.Status, &s); err == nil {
		return s == "1" && r.InfoCode == "10000"
	}

	return false
}

func (a *AutoNavi) Decode(body []byte) ([]spatial.Point, error) {
	var resp autoNaviResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseError(a.platform, err)
	}

	if !resp.ok() {
		return nil, providerError(a.platform, resp.Info)
	}

	if resp.Locations == "" {
		return nil, nil
	}

	entries := strings.Split(resp.Locations, ";")
	points := make([]spatial.Point, 0, len(entries))

	for _, entry := range entries {
		latLng := strings.Split(entry, ",")
		if len(latLng) != 2 {
			return nil, parseError(a.platform, fmt.Errorf("malformed location %q", entry))
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(latLng[0]), 64)
		if err != nil {
			return nil, parseError(a.platform, err)
		}

		lng, err := strconv.ParseFloat(strings.TrimSpace(latLng[1]), 64)
		if err != nil {
			return nil, parseError(a.platform, err)
		}

		points = append(points, spatial.Point{Lat: lat, Lng: lng})
	}

	return points, nil
}
