// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jcodagnone/geoconv/ingest"
	"github.com/jcodagnone/geoconv/storage"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var seedReset bool

var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Loads positions from a JSON file into the database",
	Long: `Reads positions as a JSON array or as one JSON object per line, from file or
from stdin when no file is given, and stores them without converting them.

$ echo '{"device_id":1,"latitude":39.9042,"longitude":116.4074}' | geoconv seed
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var input io.Reader = os.Stdin

		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			input = f
		}

		positions, err := ingest.ReadPositions(input)
		if err != nil {
			return err
		}

		if seedReset {
			if err := resetDatabase(); err != nil {
				return err
			}
		}

		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		pipeline := ingest.NewPipeline(repo, logrus.StandardLogger())

		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(len(positions),
				progressbar.OptionSetDescription("Seeding positions"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		for i := range positions {
			if err := pipeline.Ingest(ctx, &positions[i]); err != nil {
				return fmt.Errorf("position %d: %w", i+1, err)
			}

			if bar != nil {
				_ = bar.Add(1)
			}
		}

		if bar != nil {
			_ = bar.Finish()
		}

		logrus.WithField("count", len(positions)).Info("Seed complete")

		return nil
	},
}

// resetDatabase removes the duckdb file and its write-ahead log.
func resetDatabase() error {
	if cfg.DB.Driver != storage.DriverDuckDB {
		return fmt.Errorf("--reset is only supported for the %s driver", storage.DriverDuckDB)
	}

	if cfg.DB.Path == "" {
		return nil
	}

	for _, path := range []string{cfg.DB.Path, cfg.DB.Path + ".wal"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	logrus.WithField("path", cfg.DB.Path).Info("Database reset")

	return nil
}

func init() {
	seedCmd.Flags().BoolVar(&seedReset, "reset", false, "delete the duckdb database before seeding")
	rootCmd.AddCommand(seedCmd)
}
