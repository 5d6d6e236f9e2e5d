// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package httputils

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dummyRoundTripper is useful to simulate a response.
type dummyRoundTripper struct {
	response *http.Response
}

func (d *dummyRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	if d.response != nil {
		return d.response, nil
	}

	return nil, nil
}

//////////////////////////////////
// Test LoggingRoundTripper

// TestLoggingRoundTripper verifies that the LoggingRoundTripper logs both the request and
// the response (including timing information).
func TestLoggingRoundTripper(t *testing.T) {
	// Buffer to capture log output.
	var logBuffer bytes.Buffer

	// Set up a dummy transport that returns a dummy response.
	drt := &dummyRoundTripper{
		response: &http.Response{
			Status:     "200 OK",
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("response body")),
		},
	}

	lt := &LoggingRoundTripper{
		Transport: drt,
		Writer:    &logBuffer,
		DumpBody:  true, // include body in the dump
	}

	// Create a basic request.
	req, err := http.NewRequest(http.MethodGet, "http://example.com/abc", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	// RoundTrip through our logging round tripper.
	_, err = lt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}

	// Check log contents.
	logContent := logBuffer.String()
	if !strings.Contains(logContent, "> GET /abc") {
		t.Errorf("log does not contain request info. Got: %s", logContent)
	}

	if !strings.Contains(logContent, "< RESPONSE: [") {
		t.Errorf("log does not contain response header with timing info. Got: %s", logContent)
	}

	if !strings.Contains(logContent, "response body") {
		t.Errorf("log does not contain response body. Got: %s", logContent)
	}
}

//////////////////////////////////
// Test AppendRequestHeadersRoundTripper

// dummyHeadersRoundTripper is used to verify that the headers are added.
type dummyHeadersRoundTripper struct {
	lastRequest *http.Request
}

func (d *dummyHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	d.lastRequest = req

	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func TestAppendRequestHeadersRoundTripper(t *testing.T) {
	// Create a dummy transport that captures the request.
	dummy := &dummyHeadersRoundTripper{}

	// Wrap it with AppendRequestHeadersRoundTripper.
	headersToAdd := map[string]string{
		"X-Test-Header": "TestValue",
	}
	atr := &AppendRequestHeadersRoundTripper{
		Transport: dummy,
		Headers:   headersToAdd,
	}

	req, err := http.NewRequest(http.MethodPost, "http://example.org", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	// Ensure the header is not originally set.
	if req.Header.Get("X-Test-Header") != "" {
		t.Fatalf("the test header should not be pre-set in the request")
	}

	// Issue the request.
	_, err = atr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}

	// Verify that our header was added.
	if dummy.lastRequest == nil {
		t.Fatalf("dummy transport did not receive any request")
	}

	if got := dummy.lastRequest.Header.Get("X-Test-Header"); got != "TestValue" {
		t.Errorf("expected header X-Test-Header to have value 'TestValue', but got '%s'", got)
	}
}

func TestAppendRequestHeadersRoundTripper_DoesNotMutateRequest(t *testing.T) {
	dummy := &dummyHeadersRoundTripper{}
	atr := &AppendRequestHeadersRoundTripper{
		Transport: dummy,
		Headers:   map[string]string{"User-Agent": "geoconv/test"},
	}

	req, err := http.NewRequest(http.MethodGet, "http://example.org", nil)
	require.NoError(t, err)

	_, err = atr.RoundTrip(req)
	require.NoError(t, err)

	assert.Empty(t, req.Header.Get("User-Agent"))
	assert.Equal(t, "geoconv/test", dummy.lastRequest.Header.Get("User-Agent"))
}

//////////////////////////////////
// Test redaction

func TestLoggingRoundTripper_Redacts(t *testing.T) {
	var logBuffer bytes.Buffer

	dummy := &dummyHeadersRoundTripper{}
	lt := &LoggingRoundTripper{
		Transport: dummy,
		Writer:    &logBuffer,
		Redact:    DefaultRedactedParams,
	}

	req, err := http.NewRequest(http.MethodGet,
		"https://api.map.baidu.com/geoconv/v2/?ak=secret-ak&coords=116.3%2C39.9&sn=secret-sn", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")

	_, err = lt.RoundTrip(req)
	require.NoError(t, err)

	logContent := logBuffer.String()
	assert.NotContains(t, logContent, "secret")
	assert.Contains(t, logContent, "ak=REDACTED")
	assert.Contains(t, logContent, "coords=116.3%2C39.9")
	assert.Contains(t, logContent, "Authorization: REDACTED")

	// the request that goes out keeps its credentials
	assert.Equal(t, "secret-ak", dummy.lastRequest.URL.Query().Get("ak"))
	assert.Equal(t, "Bearer secret-token", dummy.lastRequest.Header.Get("Authorization"))
}

func TestAbbreviate(t *testing.T) {
	lines := abbreviate([]string{"a", strings.Repeat("x", 600)}, '>')
	require.Len(t, lines, 2)
	assert.Equal(t, "> a", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "…"))
	assert.Len(t, lines[1], 512+len("…"))
}

//////////////////////////////////
// Test NewClient

func TestNewClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	var trace bytes.Buffer

	client := NewClient(ClientOptions{
		Timeout:   time.Second,
		UserAgent: "geoconv/1.0",
		Trace:     &trace,
		TraceBody: true,
	})
	assert.Equal(t, time.Second, client.Timeout)

	resp, err := client.Get(srv.URL + "/translate?key=abc&locations=1,2")
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "geoconv/1.0", string(body))

	assert.Contains(t, trace.String(), "key=REDACTED")
	assert.Contains(t, trace.String(), "User-Agent: geoconv/1.0")
	assert.Contains(t, trace.String(), "< geoconv/1.0")
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(ClientOptions{})
	assert.Equal(t, http.DefaultTransport, client.Transport)
}
