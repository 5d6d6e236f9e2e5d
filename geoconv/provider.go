// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jcodagnone/geoconv/spatial"
	"github.com/jcodagnone/geoconv/utils/signutils"
)

// Credentials of a platform account. An empty Key disables the provider.
type Credentials struct {
	Key    string
	Secret string
}

// Quota describes the limits a platform enforces on one account.
type Quota struct {
	BatchSize int // max positions per request
	PerSecond int // max requests per second
	PerDay    int // max requests per day
}

// ProviderConfig is the static configuration of a provider.
type ProviderConfig struct {
	Credentials
	Endpoint string
	Quota    Quota
}

// Provider adapts one map platform's coordinate conversion API.
type Provider interface {
	Platform() Platform
	CRS() CRS
	Config() ProviderConfig
	// Enabled reports whether an API key is configured.
	Enabled() bool
	// Signer describes how requests to this platform are signed.
	Signer() signutils.Signer
	// Params returns the unsigned parameter set for a batch.
	Params(positions []RawPosition) (*signutils.Params, error)
	// Decode extracts one point per submitted position, in request order.
	Decode(body []byte) ([]spatial.Point, error)
}

// Option customizes a provider.
type Option func(*ProviderConfig)

// WithEndpoint overrides the platform URL, e.g. to go through a proxy.
func WithEndpoint(endpoint string) Option {
	return func(c *ProviderConfig) {
		c.Endpoint = endpoint
	}
}

// NewProvider returns the provider for platform.
func NewProvider(platform Platform, creds Credentials, opts ...Option) (Provider, error) {
	switch platform {
	case PlatformAutoNavi:
		return NewAutoNavi(creds, opts...), nil
	case PlatformBaidu:
		return NewBaidu(creds, opts...), nil
	case PlatformTencent:
		return NewTencent(creds, opts...), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}

// base holds what every provider shares.
type base struct {
	platform Platform
	crs      CRS
	config   ProviderConfig
}

func newBase(platform Platform, crs CRS, config ProviderConfig, opts []Option) base {
	for _, opt := range opts {
		opt(&config)
	}

	return base{platform: platform, crs: crs, config: config}
}

func (b *base) Platform() Platform     { return b.platform }
func (b *base) CRS() CRS               { return b.crs }
func (b *base) Config() ProviderConfig { return b.config }
func (b *base) Enabled() bool          { return b.config.Key != "" }

// encodePositions joins the batch coordinates with delimiter. Each pair is
// "lng,lat" unless latFirst is set.
func encodePositions(positions []RawPosition, delimiter string, latFirst bool) string {
	parts := make([]string, 0, len(positions))

	for _, p := range positions {
		lat := strconv.FormatFloat(p.Latitude, 'f', 6, 64)
		lng := strconv.FormatFloat(p.Longitude, 'f', 6, 64)

		if latFirst {
			parts = append(parts, lat+","+lng)
		} else {
			parts = append(parts, lng+","+lat)
		}
	}

	return strings.Join(parts, delimiter)
}

func paramsOf(kv ...string) (*signutils.Params, error) {
	p := signutils.NewParams()

	for i := 0; i+1 < len(kv); i += 2 {
		if err := p.Set(kv[i], kv[i+1]); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// BuildRequest builds the signed GET request for a batch of positions.
func BuildRequest(ctx context.Context, p Provider, positions []RawPosition) (*http.Request, error) {
	cfg := p.Config()

	if len(positions) == 0 {
		return nil, fmt.Errorf("%s: empty batch", p.Platform())
	}

	if len(positions) > cfg.Quota.BatchSize {
		return nil, fmt.Errorf("%s: batch of %d exceeds limit of %d", p.Platform(), len(positions), cfg.Quota.BatchSize)
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}

	params, err := p.Params(positions)
	if err != nil {
		return nil, fmt.Errorf("building params: %w", err)
	}

	if err := p.Signer().Apply(u.Path, params); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	u.RawQuery = params.Values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	return req, nil
}

// checkCount verifies a decoded result matches the submitted batch.
func checkCount(platform Platform, points []spatial.Point, want int) error {
	if len(points) != want {
		return parseError(platform, fmt.Errorf("got %d locations for %d positions", len(points), want))
	}

	return nil
}
