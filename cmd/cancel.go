package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"verifactu/app/database"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <registry-number>",
	Short: "Cancel an accepted registry at AEAT",
	Long: `Cancel sends a cancellation document for an accepted registry record and
tombstones it locally. The record stays part of the hash chain: cancellation
never rewrites history, it only marks the registration as annulled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.Close()

	registrar, err := buildRegistrar(cfg, true)
	if err != nil {
		return err
	}

	registryNumber := args[0]
	if err := registrar.Cancel(context.Background(), registryNumber); err != nil {
		return err
	}

	fmt.Printf("Registry %s cancelled\n", registryNumber)
	return nil
}
