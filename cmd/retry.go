package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"verifactu/app/config"
	"verifactu/app/database"
	"verifactu/app/services"
)

var (
	retryLimit int
	retryWatch bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resubmit failed registries to AEAT",
	Long: `Retry resubmits pending and failed registry records that still have
retry budget. Records that exhausted their attempts are skipped and reported;
accepted records are never resubmitted.

With --watch the command keeps running and retries periodically following the
configured backoff schedule.`,
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 50, "Maximum registries per retry pass")
	retryCmd.Flags().BoolVar(&retryWatch, "watch", false, "Keep retrying in the background until interrupted")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.Close()

	registrar, err := buildRegistrar(cfg, true)
	if err != nil {
		return err
	}

	if retryWatch {
		return watchRetries(registrar, cfg)
	}

	result, err := registrar.RetryFailed(context.Background(), retryLimit)
	if err != nil {
		return err
	}

	fmt.Printf("Retried: %d succeeded, %d failed, %d skipped\n",
		result.Success, result.Failed, result.Skipped)
	return nil
}

func watchRetries(registrar *services.InvoiceRegistrar, cfg *config.AppConfig) error {
	worker := services.NewRetryWorker(registrar, cfg.Retry, retryLimit)
	worker.Start()

	fmt.Println("Retry worker running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	worker.Stop()
	return nil
}
