package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"verifactu/app/models"
)

const acceptedResponse = `<RespuestaRegFactuSistemaFacturacion>
  <CSV>CSV-TEST-001</CSV>
  <EstadoEnvio>Correcto</EstadoEnvio>
  <TimestampPresentacion>2025-03-15T10:30:05+01:00</TimestampPresentacion>
</RespuestaRegFactuSistemaFacturacion>`

const rejectedResponse = `<RespuestaRegFactuSistemaFacturacion>
  <EstadoEnvio>Incorrecto</EstadoEnvio>
  <RespuestaLinea>
    <EstadoRegistro>Incorrecto</EstadoRegistro>
    <CodigoErrorRegistro>1100</CodigoErrorRegistro>
    <DescripcionErrorRegistro>NIF del emisor no identificado</DescripcionErrorRegistro>
  </RespuestaLinea>
</RespuestaRegFactuSistemaFacturacion>`

func aeatStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestRegistrar(t *testing.T, db *gorm.DB, endpoint string) *InvoiceRegistrar {
	t.Helper()

	cfg := testConfig()
	manager := newTestManager(t, db)

	var client *AeatClient
	if endpoint != "" {
		cfg.AEAT.SandboxEndpoint = endpoint
		var err error
		client, err = NewAeatClient(cfg, nil)
		require.NoError(t, err)
	}

	return NewInvoiceRegistrar(db, cfg, manager, client, nil)
}

func TestRegisterWithoutSubmit(t *testing.T) {
	db := openTestDB(t)
	registrar := newTestRegistrar(t, db, "")

	registry, err := registrar.Register(context.Background(), testInvoice(), false)
	require.NoError(t, err)

	assert.Equal(t, models.RegistryStatusPending, registry.Status)
	assert.Zero(t, registry.Attempts)
	assert.Nil(t, registry.PreviousHash)
}

func TestRegisterPersistsInvoice(t *testing.T) {
	db := openTestDB(t)
	registrar := newTestRegistrar(t, db, "")

	invoice := testInvoice()
	_, err := registrar.Register(context.Background(), invoice, false)
	require.NoError(t, err)

	assert.NotZero(t, invoice.ID)

	var count int64
	require.NoError(t, db.Model(&models.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRegisterRejectsInvalidInvoice(t *testing.T) {
	db := openTestDB(t)
	registrar := newTestRegistrar(t, db, "")

	invoice := testInvoice()
	invoice.IssuerTaxID = ""

	registry, err := registrar.Register(context.Background(), invoice, false)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Nil(t, registry)

	var count int64
	require.NoError(t, db.Model(&models.Registry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRegisterAndSubmitAccepted(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), true)
	require.NoError(t, err)

	assert.Equal(t, models.RegistryStatusAccepted, registry.Status)
	assert.Equal(t, 1, registry.Attempts)
	assert.Equal(t, "CSV-TEST-001", registry.AeatCSV)
	assert.NotNil(t, registry.SubmittedAt)
}

func TestRegisterAndSubmitRejected(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rejectedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistryRejected)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "1100", rejection.Code)
	assert.False(t, rejection.Retryable)

	assert.Equal(t, models.RegistryStatusRejected, registry.Status)
	assert.Equal(t, 1, registry.Attempts)
	assert.Contains(t, registry.AeatError, "NIF del emisor no identificado")
}

func TestRegisterSurvivesAuthenticationFailure(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	// The registry record survives the failed submission
	require.NotNil(t, registry)
	var stored models.Registry
	require.NoError(t, db.First(&stored, registry.ID).Error)
	assert.Equal(t, models.RegistryStatusError, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestRegisterSurvivesConnectionFailure(t *testing.T) {
	db := openTestDB(t)
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close() // connection refused from here on
	registrar := newTestRegistrar(t, db, endpoint)

	registry, err := registrar.Register(context.Background(), testInvoice(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)

	require.NotNil(t, registry)
	assert.Equal(t, models.RegistryStatusError, registry.Status)
	assert.Equal(t, 1, registry.Attempts)
}

func TestBatchRegisterContinuesPastFailures(t *testing.T) {
	db := openTestDB(t)
	registrar := newTestRegistrar(t, db, "")

	invoices := make([]*models.Invoice, 0, 5)
	for i := 1; i <= 5; i++ {
		invoice := testInvoice()
		invoice.Number = fmt.Sprintf("%03d", i)
		if i == 3 {
			invoice.IssuerTaxID = "not-a-nif"
		}
		invoices = append(invoices, invoice)
	}

	result := registrar.BatchRegister(context.Background(), invoices, false)

	assert.Equal(t, 4, result.Success)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Registries, 4)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], ErrValidationFailed)

	// The surviving registries form an unbroken chain
	report, err := registrar.VerifyChain()
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 4, report.Checked)
}

func TestBatchRegisterSubmitsOneEnvelope(t *testing.T) {
	db := openTestDB(t)

	var requests int
	var lastBody string
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		lastBody = string(body)
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	first := testInvoice()
	second := testInvoice()
	second.Number = "002"

	result := registrar.BatchRegister(context.Background(), []*models.Invoice{first, second}, true)

	assert.Equal(t, 2, result.Success)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, requests)
	assert.Contains(t, lastBody, "<NumSerieFactura>A001</NumSerieFactura>")
	assert.Contains(t, lastBody, "<NumSerieFactura>A002</NumSerieFactura>")

	for _, registry := range result.Registries {
		assert.Equal(t, models.RegistryStatusAccepted, registry.Status)
		assert.Equal(t, "CSV-TEST-001", registry.AeatCSV)
		assert.Equal(t, 1, registry.Attempts)
	}
}

func TestBatchSubmitRejectionMarksAllRejected(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rejectedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	first := testInvoice()
	second := testInvoice()
	second.Number = "002"

	result := registrar.BatchRegister(context.Background(), []*models.Invoice{first, second}, true)

	assert.Equal(t, 2, result.Success)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], ErrRegistryRejected)

	for _, registry := range result.Registries {
		assert.Equal(t, models.RegistryStatusRejected, registry.Status)
		assert.Equal(t, 1, registry.Attempts)
	}
}

func TestSubmitBatchSkipsNonRetryableRegistries(t *testing.T) {
	db := openTestDB(t)

	var requests int
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), true)
	require.NoError(t, err)
	require.Equal(t, models.RegistryStatusAccepted, registry.Status)
	require.Equal(t, 1, requests)

	// Already accepted: nothing claimable, nothing sent
	err = registrar.SubmitBatchToAeat(context.Background(), []*models.Registry{registry})
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func TestCancelAcceptedRegistry(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), true)
	require.NoError(t, err)
	require.Equal(t, models.RegistryStatusAccepted, registry.Status)

	require.NoError(t, registrar.Cancel(context.Background(), registry.RegistryNumber))

	// Tombstoned, but still part of the chain
	var found models.Registry
	err = db.Where("registry_number = ?", registry.RegistryNumber).First(&found).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, db.Unscoped().Where("registry_number = ?", registry.RegistryNumber).First(&found).Error)
	assert.True(t, found.DeletedAt.Valid)

	report, err := registrar.VerifyChain()
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 1, report.Checked)
}

func TestCancelRefusesPendingRegistry(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), false)
	require.NoError(t, err)

	err = registrar.Cancel(context.Background(), registry.RegistryNumber)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestCancelUnknownRegistry(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	err := registrar.Cancel(context.Background(), "REG-20250315-999999")
	assert.ErrorIs(t, err, ErrRegistryNotFound)
}

func TestRetryFailedResubmits(t *testing.T) {
	db := openTestDB(t)

	var calls int
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), false)
	require.NoError(t, err)
	require.NoError(t, db.Model(registry).Updates(map[string]interface{}{
		"status": models.RegistryStatusError, "attempts": 1,
	}).Error)

	result, err := registrar.RetryFailed(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, 1, calls)

	var stored models.Registry
	require.NoError(t, db.First(&stored, registry.ID).Error)
	assert.Equal(t, models.RegistryStatusAccepted, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestRetryFailedSkipsExhaustedBudget(t *testing.T) {
	db := openTestDB(t)

	var calls int
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), false)
	require.NoError(t, err)
	require.NoError(t, db.Model(registry).Updates(map[string]interface{}{
		"status": models.RegistryStatusError, "attempts": 3,
	}).Error)

	result, err := registrar.RetryFailed(context.Background(), 0)
	require.NoError(t, err)

	assert.Zero(t, result.Success)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, calls)

	// Skipped registries are never mutated
	var stored models.Registry
	require.NoError(t, db.First(&stored, registry.ID).Error)
	assert.Equal(t, models.RegistryStatusError, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
}

func TestSubmitToAeatRefusesAcceptedRegistry(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), true)
	require.NoError(t, err)
	require.Equal(t, models.RegistryStatusAccepted, registry.Status)

	err = registrar.SubmitToAeat(context.Background(), registry)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestSubmitToAeatEnforcesAttemptCap(t *testing.T) {
	db := openTestDB(t)
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, acceptedResponse)
	})
	registrar := newTestRegistrar(t, db, server.URL)

	registry, err := registrar.Register(context.Background(), testInvoice(), false)
	require.NoError(t, err)
	require.NoError(t, db.Model(registry).Updates(map[string]interface{}{
		"status": models.RegistryStatusError, "attempts": 3,
	}).Error)
	registry.Status = models.RegistryStatusError
	registry.Attempts = 3

	err = registrar.SubmitToAeat(context.Background(), registry)
	assert.ErrorIs(t, err, ErrMaxAttemptsReached)
}

func TestRejectionRetryableClassification(t *testing.T) {
	transient := RejectionFromResponse(&AeatResponse{Code: "3000", Errors: []string{"servicio no disponible"}})
	assert.True(t, transient.Retryable)

	permanent := RejectionFromResponse(&AeatResponse{Code: "1100", Errors: []string{"NIF invalido"}})
	assert.False(t, permanent.Retryable)
}
