package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"verifactu/app/security"
)

// AppConfig holds all application configuration
type AppConfig struct {
	// Database Configuration
	Database DatabaseConfig `json:"database"`

	// AEAT web service configuration
	AEAT AeatConfig `json:"aeat"`

	// Digital certificate used to authenticate with AEAT
	Certificate CertificateConfig `json:"certificate"`

	// Issuing company information
	Company CompanyConfig `json:"company"`

	// Retry policy for failed submissions
	Retry RetryConfig `json:"retry"`

	// QR code generation
	QR QRConfig `json:"qr"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Batch processing
	Batch BatchConfig `json:"batch"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
}

// AeatConfig holds AEAT web service settings
type AeatConfig struct {
	Environment        string `json:"environment"` // "production" or "sandbox"
	ProductionEndpoint string `json:"production_endpoint"`
	SandboxEndpoint    string `json:"sandbox_endpoint"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	VerifySSL          bool   `json:"verify_ssl"`
}

// Endpoint returns the endpoint for the configured environment.
func (c AeatConfig) Endpoint() string {
	if c.Environment == "sandbox" {
		return c.SandboxEndpoint
	}
	return c.ProductionEndpoint
}

// Timeout returns the submission timeout as a duration.
func (c AeatConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CertificateConfig holds the client certificate settings.
// The password is encrypted at rest in config.json.
type CertificateConfig struct {
	Path     string `json:"path"`
	Password string `json:"password"`
	Enabled  bool   `json:"enabled"` // when false, registries are submitted unsigned
}

// CompanyConfig holds the issuing company information
type CompanyConfig struct {
	Name  string `json:"name"`
	TaxID string `json:"tax_id"` // NIF/CIF
}

// RetryConfig holds automatic retry behavior for failed submissions
type RetryConfig struct {
	MaxAttempts    int   `json:"max_attempts"`
	BackoffSeconds []int `json:"backoff_seconds"` // delay schedule per attempt
}

// BackoffFor returns the delay before the given attempt number (1-based).
// Attempts beyond the schedule reuse the last configured delay.
func (c RetryConfig) BackoffFor(attempt int) time.Duration {
	if len(c.BackoffSeconds) == 0 {
		return time.Minute
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.BackoffSeconds) {
		idx = len(c.BackoffSeconds) - 1
	}
	return time.Duration(c.BackoffSeconds[idx]) * time.Second
}

// QRConfig holds QR code generation settings
type QRConfig struct {
	Size          int    `json:"size"`
	ValidationURL string `json:"validation_url"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// BatchConfig holds batch processing settings
type BatchConfig struct {
	Size int `json:"size"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	if path := os.Getenv("VERIFACTU_CONFIG"); path != "" {
		return path, nil
	}

	baseDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config")
	}

	configDir := filepath.Join(baseDir, "verifactu")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("could not create config directory: %w", err)
	}

	return filepath.Join(configDir, "config.json"), nil
}

// LoadConfig loads configuration from config.json, decrypts sensitive fields
// and applies environment variable overrides.
func LoadConfig() (*AppConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	var cfg AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}

	if err := cfg.decryptSensitiveFields(); err != nil {
		return nil, fmt.Errorf("could not decrypt sensitive fields: %w", err)
	}

	cfg.applyEnvOverrides()

	return &cfg, nil
}

// SaveConfig saves configuration to config.json after encrypting sensitive fields
func SaveConfig(cfg *AppConfig) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Encrypt a copy to keep the in-memory config usable
	cfgCopy := *cfg
	if err := cfgCopy.encryptSensitiveFields(); err != nil {
		return fmt.Errorf("could not encrypt sensitive fields: %w", err)
	}

	data, err := json.MarshalIndent(&cfgCopy, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}

	return nil
}

// ConfigExists checks if config file exists
func ConfigExists() (bool, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return false, err
	}

	_, err = os.Stat(configPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "verifactu",
			Username: "postgres",
			Password: "",
			SSLMode:  "disable",
		},
		AEAT: AeatConfig{
			Environment:        "sandbox",
			ProductionEndpoint: "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion",
			SandboxEndpoint:    "https://prewww2.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion",
			TimeoutSeconds:     30,
			VerifySSL:          true,
		},
		Certificate: CertificateConfig{
			Enabled: true,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BackoffSeconds: []int{60, 300, 600},
		},
		QR: QRConfig{
			Size:          300,
			ValidationURL: "https://www.aeat.es/verifactu/qr",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Batch: BatchConfig{
			Size: 100,
		},
	}
}

// CreateDefaultConfig creates and persists a default configuration file
func CreateDefaultConfig() (*AppConfig, error) {
	cfg := DefaultConfig()
	if err := SaveConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable for submission. Missing
// credentials or paths are fatal configuration errors, never retried.
func (cfg *AppConfig) Validate() error {
	if cfg.Company.TaxID == "" {
		return fmt.Errorf("company tax id is required")
	}
	if cfg.AEAT.Endpoint() == "" {
		return fmt.Errorf("AEAT endpoint is not configured")
	}
	if cfg.Certificate.Enabled {
		if cfg.Certificate.Path == "" {
			return fmt.Errorf("certificate path is required when signing is enabled")
		}
		if _, err := os.Stat(cfg.Certificate.Path); err != nil {
			return fmt.Errorf("certificate file not accessible: %w", err)
		}
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	return nil
}

// applyEnvOverrides lets environment variables win over config.json values.
// Priority: env > config.json > defaults (same scheme the database DSN uses).
func (cfg *AppConfig) applyEnvOverrides() {
	if v := os.Getenv("VERIFACTU_ENVIRONMENT"); v != "" {
		cfg.AEAT.Environment = v
	}
	if v := os.Getenv("VERIFACTU_CERT_PATH"); v != "" {
		cfg.Certificate.Path = v
	}
	if v := os.Getenv("VERIFACTU_CERT_PASSWORD"); v != "" {
		cfg.Certificate.Password = v
	}
	if v := os.Getenv("VERIFACTU_COMPANY_TAX_ID"); v != "" {
		cfg.Company.TaxID = v
	}
	if v := os.Getenv("VERIFACTU_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.AEAT.TimeoutSeconds = secs
		}
	}
	if v := os.Getenv("VERIFACTU_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("VERIFACTU_VERIFY_SSL"); v != "" {
		cfg.AEAT.VerifySSL = strings.EqualFold(v, "true") || v == "1"
	}
}

// encryptSensitiveFields encrypts sensitive configuration fields
func (cfg *AppConfig) encryptSensitiveFields() error {
	var err error

	if cfg.Database.Password != "" {
		cfg.Database.Password, err = security.Encrypt(cfg.Database.Password)
		if err != nil {
			return fmt.Errorf("could not encrypt database password: %w", err)
		}
	}

	if cfg.Certificate.Password != "" {
		cfg.Certificate.Password, err = security.Encrypt(cfg.Certificate.Password)
		if err != nil {
			return fmt.Errorf("could not encrypt certificate password: %w", err)
		}
	}

	return nil
}

// decryptSensitiveFields decrypts sensitive configuration fields.
// If a field is not encrypted (plain text), it leaves it as-is (useful for development)
func (cfg *AppConfig) decryptSensitiveFields() error {
	if cfg.Database.Password != "" {
		decrypted, err := security.Decrypt(cfg.Database.Password)
		if err != nil {
			// If decryption fails, assume it's plain text
			decrypted = cfg.Database.Password
		}
		cfg.Database.Password = decrypted
	}

	if cfg.Certificate.Password != "" {
		decrypted, err := security.Decrypt(cfg.Certificate.Password)
		if err != nil {
			decrypted = cfg.Certificate.Password
		}
		cfg.Certificate.Password = decrypted
	}

	return nil
}
