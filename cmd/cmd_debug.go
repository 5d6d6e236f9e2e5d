// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dev tools",
}

var debugSignCmd = &cobra.Command{
	Use:   "sign <platform>",
	Short: "Prints the signed request a platform would receive for a batch",
	Long: `Reads one "lat,lng" position per line and prints the canonical string, the
signature and the request URL for the batch. Nothing is sent.

$ printf '39.984154,116.307490\n' | geoconv debug sign tencent
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := providerFor(args[0])
		if err != nil {
			return err
		}

		if isatty.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(os.Stderr, "Enter positions as lat,lng, one per line…")
		}

		positions, err := readLatLng(os.Stdin)
		if err != nil {
			return err
		}

		u, err := url.Parse(provider.Config().Endpoint)
		if err != nil {
			return err
		}

		params, err := provider.Params(positions)
		if err != nil {
			return err
		}

		signer := provider.Signer()
		fmt.Printf("canonical:\t%s\n", signer.Canonical(u.Path, params))

		if signer.Enabled() {
			fmt.Printf("signature:\t%s=%s\n", signer.Param, signer.Sign(u.Path, params))
		} else {
			fmt.Println("signature:\tnone, no secret configured")
		}

		req, err := geoconv.BuildRequest(cmd.Context(), provider, positions)
		if err != nil {
			return err
		}

		fmt.Printf("url:\t\t%s\n", req.URL)

		return nil
	},
}

var debugDecodeCmd = &cobra.Command{
	Use:   "decode <platform>",
	Short: "Decodes a platform response read from stdin",
	Long: `Prints one converted "lat,lng" per line, or the error the poller would report.

$ curl -s "$(geoconv debug sign baidu < positions.txt | awk '/^url/ {print $2}')" | geoconv debug decode baidu
`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		provider, err := providerFor(args[0])
		if err != nil {
			return err
		}

		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		points, err := provider.Decode(body)
		if err != nil {
			if geoconv.IsProviderError(err) {
				fmt.Fprintf(os.Stderr, "%s rejected the request\n", provider.Platform())
			}

			return err
		}

		for _, pt := range points {
			fmt.Printf("%.6f,%.6f\n", pt.Lat, pt.Lng)
		}

		return nil
	},
}

// readLatLng parses "lat,lng" lines, skipping blank ones.
func readLatLng(r io.Reader) ([]geoconv.RawPosition, error) {
	var positions []geoconv.RawPosition

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		lat, lng, ok := strings.Cut(text, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: expected lat,lng: %q", line, text)
		}

		var pos geoconv.RawPosition

		var err error
		if pos.Latitude, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		if pos.Longitude, err = strconv.ParseFloat(strings.TrimSpace(lng), 64); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		if err := pos.Point().Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		positions = append(positions, pos)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	return positions, nil
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugSignCmd)
	debugCmd.AddCommand(debugDecodeCmd)
}
