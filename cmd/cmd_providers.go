// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Lists the platforms, their quotas and how many positions each has pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		providers, err := cfg.Providers.Build()
		if err != nil {
			return err
		}

		a, b, c, d, e := strings.Repeat("─", 9), strings.Repeat("─", 6), strings.Repeat("─", 7), strings.Repeat("─", 18), strings.Repeat("─", 9)

		fmt.Printf("╭─%-9s─┬─%-6s─┬─%-7s─┬─%-18s─┬─%9s─╮\n", a, b, c, d, e)
		fmt.Printf("│ %-9s │ %-6s │ %-7s │ %-18s │ %9s │\n", "Platform", "CRS", "Enabled", "Batch/Sec/Day", "Pending")
		fmt.Printf("├─%-9s─┼─%-6s─┼─%-7s─┼─%-18s─┼─%9s─┤\n", a, b, c, d, e)

		for _, p := range providers {
			pending, err := repo.CountUnconverted(ctx, p.Platform())
			if err != nil {
				return err
			}

			enabled := "no"
			if p.Enabled() {
				enabled = "yes"
			}

			q := p.Config().Quota
			quota := fmt.Sprintf("%d/%d/%d", q.BatchSize, q.PerSecond, q.PerDay)

			fmt.Printf("│ %-9s │ %-6s │ %-7s │ %-18s │ %9d │\n", p.Platform(), p.CRS(), enabled, quota, pending)
		}

		fmt.Printf("╰─%-9s─┴─%-6s─┴─%-7s─┴─%-18s─┴─%9s─╯\n", a, b, c, d, e)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
