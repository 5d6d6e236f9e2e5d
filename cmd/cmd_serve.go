// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jcodagnone/geoconv/api"
	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/jcodagnone/geoconv/ingest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the HTTP API, the ingest consumers and the conversion pollers",
	Long: `Stores positions received over HTTP (and Kafka when configured) and keeps one
poller per enabled platform converting the pending ones in the background.

Platforms are enabled by configuring their key, e.g.

  GEOCONV_PROVIDERS_BAIDU_KEY=... GEOCONV_PROVIDERS_BAIDU_SECRET=... geoconv serve
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logrus.StandardLogger()

		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		providers, err := cfg.Providers.Build()
		if err != nil {
			return err
		}

		scheduler, err := geoconv.NewScheduler(providers, repo, geoconv.SchedulerOptions{
			PollerOptions: pollerOptions(),
			StartDelay:    cfg.Poller.StartDelay,
		})
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}

		if !scheduler.Enabled() {
			log.Warn("No platform has an API key, positions will be stored but not converted")
		}

		pipeline := ingest.NewPipeline(repo, log, ingest.HandlerHook(scheduler))
		g, gctx := errgroup.WithContext(ctx)

		if cfg.Redis.Addr != "" {
			notifier, err := ingest.NewRedisNotifier(ctx, cfg.Redis.Ingest(), log)
			if err != nil {
				return err
			}
			defer notifier.Close()

			pipeline.AddHook(notifier.Hook())
			g.Go(func() error { return notifier.Subscribe(gctx, scheduler) })
		}

		if kc := cfg.Kafka.Ingest(); kc.Enabled() {
			consumer, err := ingest.NewKafkaConsumer(kc, pipeline, log)
			if err != nil {
				return err
			}

			g.Go(func() error { return consumer.Run(gctx) })
		}

		if err := scheduler.Start(gctx); err != nil {
			return err
		}

		server := api.NewServer(repo, pipeline, scheduler, log)
		g.Go(func() error { return server.Run(gctx, cfg.HTTP.Addr) })

		err = g.Wait()
		stop()
		scheduler.Wait()

		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}

		log.Info("Shutdown complete")

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "localhost:8080", "HTTP listen address")
	serveCmd.Flags().Bool("trace", false, "dump platform requests and responses to stderr")
	rootCmd.AddCommand(serveCmd)
}
