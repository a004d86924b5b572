package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"verifactu/app/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file",
	Long: `Init writes a default config.json with sandbox AEAT endpoints and the
standard retry schedule. Secrets stored in the file are encrypted with a key
kept next to it.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		os.Setenv("VERIFACTU_CONFIG", configPath)
	}

	exists, err := config.ConfigExists()
	if err != nil {
		return err
	}
	if exists && !initForce {
		path, _ := config.GetConfigPath()
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", path)
	}

	if _, err := config.CreateDefaultConfig(); err != nil {
		return err
	}

	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration created at %s\n", path)
	fmt.Println("Edit it to set your company tax ID and certificate before registering invoices.")
	return nil
}
