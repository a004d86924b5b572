package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"verifactu/app/config"
	"verifactu/app/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Invoice{}, &models.InvoiceBreakdown{}, &models.Registry{}))

	return db
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		AEAT: config.AeatConfig{
			Environment:     "sandbox",
			SandboxEndpoint: "https://prewww2.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion",
			TimeoutSeconds:  5,
			VerifySSL:       false,
		},
		Company: config.CompanyConfig{
			Name:  "Test Company SL",
			TaxID: "B12345678",
		},
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			BackoffSeconds: []int{60, 300, 600},
		},
		QR: config.QRConfig{
			Size:          300,
			ValidationURL: "https://www.aeat.es/verifactu/qr",
		},
	}
}

func newTestManager(t *testing.T, db *gorm.DB) *RegistryManager {
	t.Helper()

	cfg := testConfig()
	hashGen := NewHashGenerator().WithClock(fixedClock(time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)))
	qrGen := NewQrGenerator(cfg.QR.ValidationURL, cfg.QR.Size)
	xmlBuilder := NewXmlBuilder(cfg.Company.TaxID, cfg.Company.Name, "")

	return NewRegistryManager(db, hashGen, qrGen, xmlBuilder, NewEventDispatcher())
}

func createInvoice(t *testing.T, db *gorm.DB, serie, number string) *models.Invoice {
	t.Helper()

	invoice := testInvoice()
	invoice.Serie = serie
	invoice.Number = number
	require.NoError(t, db.Create(invoice).Error)
	return invoice
}
