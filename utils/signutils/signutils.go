// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package signutils builds the ordered parameter sets and MD5 signatures used by
// the Chinese map web services (sig/sn style signing).
package signutils

import (
	"crypto/md5" // #nosec G501 - mandated by the providers' signing schemes
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ErrDuplicateParam is returned when a parameter name is added twice.
var ErrDuplicateParam = errors.New("duplicate parameter")

// Params is a set of query parameters kept in ascending name order.
type Params struct {
	names  []string
	values map[string]string
}

// NewParams creates an empty parameter set.
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Set adds a parameter. Names must be unique.
func (p *Params) Set(name, value string) error {
	if _, ok := p.values[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateParam, name)
	}

	i, _ := slices.BinarySearch(p.names, name)
	p.names = slices.Insert(p.names, i, name)
	p.values[name] = value

	return nil
}

// Get returns the raw value of a parameter.
func (p *Params) Get(name string) (string, bool) {
	v, ok := p.values[name]

	return v, ok
}

// Names returns the parameter names in ascending order.
func (p *Params) Names() []string {
	return slices.Clone(p.names)
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	return len(p.names)
}

// Values returns the wire form of the parameters. Encoding is left to the caller
// (url.Values.Encode).
func (p *Params) Values() url.Values {
	v := make(url.Values, len(p.names))
	for _, name := range p.names {
		v.Set(name, p.values[name])
	}

	return v
}

// Signer computes provider signatures over a parameter set.
type Signer struct {
	// Secret is the shared secret appended to the canonical string. When empty
	// requests go out unsigned.
	Secret string

	// Param is the name of the parameter carrying the signature (sig, sn).
	Param string

	// WithPath prefixes the canonical string with the request path.
	WithPath bool

	// URLEncode percent-encodes values in the canonical string. It does not
	// affect how values travel on the wire.
	URLEncode bool
}

// Enabled reports whether the signer has a secret.
func (s Signer) Enabled() bool {
	return s.Secret != ""
}

// Canonical returns the string that gets hashed, without the secret.
func (s Signer) Canonical(path string, p *Params) string {
	var sb strings.Builder

	if s.WithPath {
		sb.WriteString(path)
	}

	if p.Len() > 0 {
		sb.WriteByte('?')

		for _, name := range p.names {
			value := p.values[name]
			if s.URLEncode {
				value = url.QueryEscape(value)
			}

			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(value)
			sb.WriteByte('&')
		}
	}

	return sb.String()
}

// Sign returns the lowercase hex MD5 of the canonical string followed by the secret.
func (s Signer) Sign(path string, p *Params) string {
	sum := md5.Sum([]byte(s.Canonical(path, p) + s.Secret)) // #nosec G401

	return hex.EncodeToString(sum[:])
}

// Apply adds the signature parameter to p. It does nothing without a secret.
func (s Signer) Apply(path string, p *Params) error {
	if !s.Enabled() {
		return nil
	}

	if s.Param == "" {
		return errors.New("signer: missing signature parameter name")
	}

	return p.Set(s.Param, s.Sign(path, p))
}
