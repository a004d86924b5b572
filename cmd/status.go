package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"verifactu/app/database"
	"verifactu/app/models"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [registry-number]",
	Short: "Show ledger status or a single registry record",
	Long: `Status without arguments prints a summary of the ledger: how many
registries exist in each submission state. With a registry number it prints
that record's details including hash, chain position and AEAT verdict.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.Close()

	registrar, err := buildRegistrar(cfg, false)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		registry, err := registrar.Manager().GetByRegistryNumber(args[0])
		if err != nil {
			return err
		}
		return printRegistry(registry)
	}

	return printSummary()
}

func printRegistry(registry *models.Registry) error {
	if statusJSON {
		out, err := json.MarshalIndent(registry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Registry:   %s\n", registry.RegistryNumber)
	fmt.Printf("Sequence:   %d\n", registry.ChainSequence)
	fmt.Printf("Hash:       %s\n", registry.Hash)
	fmt.Printf("Previous:   %s\n", registry.PreviousHashValue())
	fmt.Printf("Status:     %s (%s)\n", registry.Status, registry.Status.Description())
	fmt.Printf("Attempts:   %d\n", registry.Attempts)
	if registry.SubmittedAt != nil {
		fmt.Printf("Submitted:  %s\n", registry.SubmittedAt.Format("2006-01-02 15:04:05"))
	}
	if registry.AeatCSV != "" {
		fmt.Printf("CSV:        %s\n", registry.AeatCSV)
	}
	if registry.AeatError != "" {
		fmt.Printf("Last error: %s\n", registry.AeatError)
	}
	return nil
}

func printSummary() error {
	type statusCount struct {
		Status models.RegistryStatus `json:"status"`
		Count  int64                 `json:"count"`
	}

	var counts []statusCount
	err := database.GetDB().Model(&models.Registry{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Order("status").
		Scan(&counts).Error
	if err != nil {
		return err
	}

	if statusJSON {
		out, err := json.MarshalIndent(counts, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	var total int64
	for _, c := range counts {
		total += c.Count
	}
	fmt.Printf("Registries: %d\n", total)
	for _, c := range counts {
		fmt.Printf("  %-10s %d\n", c.Status, c.Count)
	}
	return nil
}
