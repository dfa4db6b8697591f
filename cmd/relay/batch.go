package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var listingURL string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one batch synchronously and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Database, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		stack, err := newPipelineStack(cfg, store, logger)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		report, err := stack.batches.Run(ctx, listingURL)
		if report != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&listingURL, "url", "", "Listing URL (defaults to the portal's listing)")
}
