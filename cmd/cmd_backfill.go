// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var backfillLimit int

var backfillCmd = &cobra.Command{
	Use:   "backfill <platform>",
	Short: "Converts the pending positions of one platform and exits",
	Long: `Runs conversion cycles for a platform until no position is pending, the
limit is reached or the platform rejects a request. Cycles wait for the
platform's quota like the background pollers do.

$ geoconv backfill baidu --limit 5000
`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(geoconv.PlatformAutoNavi), string(geoconv.PlatformBaidu), string(geoconv.PlatformTencent)},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		provider, err := providerFor(args[0])
		if err != nil {
			return err
		}

		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		poller, err := geoconv.NewPoller(provider, repo, pollerOptions())
		if errors.Is(err, geoconv.ErrDisabled) {
			return fmt.Errorf("%w: configure providers.%s.key", err, provider.Platform())
		}

		if err != nil {
			return err
		}

		total, err := repo.CountUnconverted(ctx, provider.Platform())
		if err != nil {
			return err
		}

		if backfillLimit > 0 && total > backfillLimit {
			total = backfillLimit
		}

		log := logrus.WithField("platform", provider.Platform())
		log.WithField("pending", total).Info("Starting backfill")

		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(fmt.Sprintf("Converting to %s", provider.CRS())),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		var converted, failed int

		for converted+failed < total {
			res, err := poller.Cycle(ctx)
			if err != nil {
				return fmt.Errorf("backfill stopped after %d conversions: %w", converted, err)
			}

			if res.Fetched == 0 {
				break
			}

			converted += res.Stored
			failed += res.Fetched - res.Stored

			if bar != nil {
				_ = bar.Add(res.Fetched)
			}

			if res.Stored == 0 {
				return fmt.Errorf("backfill stopped: no conversion of the last %d positions could be stored", res.Fetched)
			}
		}

		if bar != nil {
			_ = bar.Finish()
		}

		log.WithFields(logrus.Fields{
			"converted": converted,
			"failed":    failed,
		}).Info("Backfill finished")

		return nil
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "stop after this many positions (0 converts everything pending)")
	backfillCmd.Flags().Bool("trace", false, "dump platform requests and responses to stderr")
	rootCmd.AddCommand(backfillCmd)
}
