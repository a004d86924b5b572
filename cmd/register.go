package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"verifactu/app/database"
	"verifactu/app/models"
)

var (
	registerSubmit bool
	registerBatch  bool
)

var registerCmd = &cobra.Command{
	Use:   "register [invoice-file]",
	Short: "Register an invoice in the hash-chained ledger",
	Long: `Register reads an invoice from a JSON file, validates it, appends a
registry record to the hash chain and optionally submits it to AEAT.

The file must contain a single invoice object, or an array of invoices when
--batch is given. Registration is never rolled back by a failed submission:
the registry record stays in the ledger with error status and is picked up
by the retry command.`,
	Example: `  # Register an invoice without submitting
  verifactu register invoice.json

  # Register and submit to AEAT
  verifactu register invoice.json --submit

  # Register a batch of invoices
  verifactu register invoices.json --batch --submit`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().BoolVar(&registerSubmit, "submit", false, "Submit the registry to AEAT after creation")
	registerCmd.Flags().BoolVar(&registerBatch, "batch", false, "Treat the input file as an array of invoices")
	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.Close()

	registrar, err := buildRegistrar(cfg, registerSubmit)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("cannot read invoice file: %w", err)
	}

	ctx := context.Background()

	if registerBatch {
		var invoices []*models.Invoice
		if err := json.Unmarshal(data, &invoices); err != nil {
			return fmt.Errorf("invalid invoice file: %w", err)
		}

		result := registrar.BatchRegister(ctx, invoices, registerSubmit)
		fmt.Printf("Registered %d invoices, %d failed\n", result.Success, result.Failed)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d invoices failed", result.Failed, result.Success+result.Failed)
		}
		return nil
	}

	var invoice models.Invoice
	if err := json.Unmarshal(data, &invoice); err != nil {
		return fmt.Errorf("invalid invoice file: %w", err)
	}

	registry, err := registrar.Register(ctx, &invoice, registerSubmit)
	if registry != nil {
		fmt.Printf("Registry:  %s\n", registry.RegistryNumber)
		fmt.Printf("Hash:      %s\n", registry.Hash)
		fmt.Printf("Status:    %s\n", registry.Status)
		if registry.QRURL != "" {
			fmt.Printf("QR URL:    %s\n", registry.QRURL)
		}
	}
	return err
}
