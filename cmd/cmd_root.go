// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jcodagnone/geoconv/config"
	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/jcodagnone/geoconv/storage"
	"github.com/jcodagnone/geoconv/utils/httputils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "geoconv",
	Short: "converts GPS positions to the coordinate systems of Chinese map platforms",
	Long: `
geoconv stores GPS (WGS-84) positions and converts the ones that fall in China
to the coordinate systems used by AutoNavi (GCJ-02), Tencent (GCJ-02) and
Baidu (BD-09), calling each platform's web service within its quota.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error

		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		return cfg.Logging.Apply(logrus.StandardLogger())
	},
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "configuration file (default ./geoconv.yaml)")
	flags.String("db-driver", storage.DriverDuckDB, "database driver: duckdb or postgres")
	flags.String("db-path", "data/geoconv.duckdb", "duckdb database file")
	flags.String("db-dsn", "", "postgres connection string")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format: text or json")
}

// openRepository opens the configured database and makes sure the schema exists.
func openRepository(ctx context.Context) (storage.Repository, error) {
	if cfg.DB.Driver == storage.DriverDuckDB && cfg.DB.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	repo, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.Source())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := repo.CreateSchema(ctx); err != nil {
		_ = repo.Close()

		return nil, err
	}

	return repo, nil
}

func newHTTPClient() *http.Client {
	opts := httputils.ClientOptions{
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
		TraceBody: cfg.HTTP.TraceBody,
	}

	if opts.UserAgent == "" {
		opts.UserAgent = "geoconv/" + Version
	}

	if cfg.HTTP.Trace {
		opts.Trace = os.Stderr
	}

	return httputils.NewClient(opts)
}

func pollerOptions() geoconv.PollerOptions {
	return geoconv.PollerOptions{
		HTTPClient:   newHTTPClient(),
		Logger:       logrus.StandardLogger(),
		IdleInterval: cfg.Poller.IdleInterval,
		BackoffMin:   cfg.Poller.BackoffMin,
		BackoffMax:   cfg.Poller.BackoffMax,
	}
}

// providerFor parses a platform name and builds its provider from the configuration.
func providerFor(name string) (geoconv.Provider, error) {
	platform, err := geoconv.ParsePlatform(name)
	if err != nil {
		return nil, err
	}

	pc := cfg.Providers.Get(platform)

	var opts []geoconv.Option
	if pc.Endpoint != "" {
		opts = append(opts, geoconv.WithEndpoint(pc.Endpoint))
	}

	return geoconv.NewProvider(platform, geoconv.Credentials{Key: pc.Key, Secret: pc.Secret}, opts...)
}
