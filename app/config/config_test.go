package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sandbox", cfg.AEAT.Environment)
	assert.Contains(t, cfg.AEAT.SandboxEndpoint, "prewww2.aeat.es")
	assert.Contains(t, cfg.AEAT.ProductionEndpoint, "agenciatributaria.gob.es")
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, []int{60, 300, 600}, cfg.Retry.BackoffSeconds)
	assert.Equal(t, 300, cfg.QR.Size)
	assert.Equal(t, "https://www.aeat.es/verifactu/qr", cfg.QR.ValidationURL)
}

func TestEndpointSelection(t *testing.T) {
	cfg := AeatConfig{
		Environment:        "sandbox",
		ProductionEndpoint: "https://prod.example",
		SandboxEndpoint:    "https://sandbox.example",
	}
	assert.Equal(t, "https://sandbox.example", cfg.Endpoint())

	cfg.Environment = "production"
	assert.Equal(t, "https://prod.example", cfg.Endpoint())
}

func TestTimeoutDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, 30*time.Second, AeatConfig{}.Timeout())
	assert.Equal(t, 5*time.Second, AeatConfig{TimeoutSeconds: 5}.Timeout())
}

func TestBackoffSchedule(t *testing.T) {
	retry := RetryConfig{BackoffSeconds: []int{60, 300, 600}}

	assert.Equal(t, 60*time.Second, retry.BackoffFor(1))
	assert.Equal(t, 300*time.Second, retry.BackoffFor(2))
	assert.Equal(t, 600*time.Second, retry.BackoffFor(3))

	// attempts beyond the schedule reuse the last delay
	assert.Equal(t, 600*time.Second, retry.BackoffFor(4))
	assert.Equal(t, 600*time.Second, retry.BackoffFor(10))

	// degenerate inputs stay sane
	assert.Equal(t, 60*time.Second, retry.BackoffFor(0))
	assert.Equal(t, time.Minute, RetryConfig{}.BackoffFor(1))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Company.TaxID = "B12345678"
	cfg.Certificate.Enabled = false
	require.NoError(t, cfg.Validate())

	cfg.Company.TaxID = ""
	assert.Error(t, cfg.Validate())

	cfg.Company.TaxID = "B12345678"
	cfg.Certificate.Enabled = true
	cfg.Certificate.Path = ""
	assert.Error(t, cfg.Validate())

	cfg.Certificate.Enabled = false
	cfg.Retry.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VERIFACTU_ENVIRONMENT", "production")
	t.Setenv("VERIFACTU_COMPANY_TAX_ID", "B99999999")
	t.Setenv("VERIFACTU_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("VERIFACTU_VERIFY_SSL", "false")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "production", cfg.AEAT.Environment)
	assert.Equal(t, "B99999999", cfg.Company.TaxID)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.AEAT.VerifySSL)
}
