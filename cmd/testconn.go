package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"verifactu/app/config"
	"verifactu/app/services"
)

var testconnCmd = &cobra.Command{
	Use:   "testconn",
	Short: "Test connectivity to the AEAT endpoint",
	Long: `Testconn performs a connectivity check against the configured AEAT
environment, including the client certificate when one is configured. It does
not submit anything.`,
	RunE: runTestconn,
}

func init() {
	rootCmd.AddCommand(testconnCmd)
}

func runTestconn(cmd *cobra.Command, args []string) error {
	// bootstrap opens the database too, which this check does not need
	if configPath != "" {
		os.Setenv("VERIFACTU_CONFIG", configPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	return checkEndpoint(cfg)
}

func checkEndpoint(cfg *config.AppConfig) error {
	var certManager *services.CertificateManager
	if cfg.Certificate.Enabled && cfg.Certificate.Path != "" {
		certManager = services.NewCertificateManager(cfg.Certificate.Path, cfg.Certificate.Password)
	}

	client, err := services.NewAeatClient(cfg, certManager)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AEAT.Timeout())
	defer cancel()

	fmt.Printf("Testing %s (%s)...\n", cfg.AEAT.Endpoint(), cfg.AEAT.Environment)

	start := time.Now()
	if err := client.TestConnection(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	fmt.Printf("Connection OK in %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}
