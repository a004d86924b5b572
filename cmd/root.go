package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"verifactu/app/config"
	"verifactu/app/database"
	"verifactu/app/services"
	"verifactu/internal/logger"
)

var version = "1.0.0"

var (
	configPath string
	sqlitePath string
	useSQLite  bool
)

var rootCmd = &cobra.Command{
	Use:   "verifactu",
	Short: "Verifactu CLI - tamper-evident invoice registration for AEAT",
	Long: `Verifactu CLI registers invoices in a hash-chained ledger and submits
them to the Spanish tax agency (AEAT) following the Verifactu regulation.

Every registered invoice becomes a registry record whose SHA-256 fingerprint
chains to the previous record, making the ledger tamper-evident. Records are
submitted to AEAT with automatic retry of failed submissions.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Verifactu CLI executed")

		fmt.Println("Verifactu invoice registration CLI")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json (default: user config directory)")
	rootCmd.PersistentFlags().BoolVar(&useSQLite, "sqlite", false, "Use an embedded SQLite database instead of PostgreSQL")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "Path of the SQLite database file (implies --sqlite)")
}

// bootstrap loads configuration, initializes logging and opens the database.
func bootstrap() (*config.AppConfig, error) {
	if configPath != "" {
		os.Setenv("VERIFACTU_CONFIG", configPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := logger.DefaultConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	if cfg.Logging.Output != "" {
		logCfg.Output = cfg.Logging.Output
	}
	if err := logger.Setup(logCfg); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	if useSQLite || sqlitePath != "" {
		if err := database.InitializeSQLite(sqlitePath); err != nil {
			return nil, err
		}
	} else {
		if err := database.InitializeWithConfig(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// buildRegistrar wires the full registration stack. When connect is false the
// AEAT client is left out and registries stay pending.
func buildRegistrar(cfg *config.AppConfig, connect bool) (*services.InvoiceRegistrar, error) {
	hashGen := services.NewHashGenerator()
	qrGen := services.NewQrGenerator(cfg.QR.ValidationURL, cfg.QR.Size)
	xmlBuilder := services.NewXmlBuilder(cfg.Company.TaxID, cfg.Company.Name, "")
	manager := services.NewRegistryManager(database.GetDB(), hashGen, qrGen, xmlBuilder, nil)

	var certManager *services.CertificateManager
	if cfg.Certificate.Enabled && cfg.Certificate.Path != "" {
		certManager = services.NewCertificateManager(cfg.Certificate.Path, cfg.Certificate.Password)
	}

	var client *services.AeatClient
	if connect {
		var err error
		client, err = services.NewAeatClient(cfg, certManager)
		if err != nil {
			return nil, err
		}
	}

	return services.NewInvoiceRegistrar(database.GetDB(), cfg, manager, client, certManager), nil
}
