package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"verifactu/app/config"
	"verifactu/app/models"
	"verifactu/internal/logger"
)

// InvoiceRegistrar is the entry point for invoice registration. It persists
// the invoice, appends the registry record to the chain, optionally signs the
// XML document and drives submission to AEAT.
type InvoiceRegistrar struct {
	db          *gorm.DB
	cfg         *config.AppConfig
	manager     *RegistryManager
	validator   *InvoiceValidator
	client      *AeatClient
	certManager *CertificateManager
	log         zerolog.Logger
}

// NewInvoiceRegistrar wires a registrar from its collaborators. The AEAT
// client and certificate manager are optional; without a client registries
// stay pending until a later submission.
func NewInvoiceRegistrar(db *gorm.DB, cfg *config.AppConfig, manager *RegistryManager, client *AeatClient, certManager *CertificateManager) *InvoiceRegistrar {
	return &InvoiceRegistrar{
		db:          db,
		cfg:         cfg,
		manager:     manager,
		validator:   NewInvoiceValidator(),
		client:      client,
		certManager: certManager,
		log:         logger.WithComponent("registrar"),
	}
}

// Manager exposes the underlying registry manager.
func (r *InvoiceRegistrar) Manager() *RegistryManager {
	return r.manager
}

// Register validates and persists the invoice, appends its registry record
// to the chain and, when submit is true, transmits it to AEAT. The registry
// record survives submission failures: a failed transmission leaves the
// record in error status but never rolls the registration back.
func (r *InvoiceRegistrar) Register(ctx context.Context, invoice *models.Invoice, submit bool) (*models.Registry, error) {
	if err := r.validator.Validate(invoice); err != nil {
		return nil, err
	}

	if invoice.ID == 0 {
		if err := r.db.Create(invoice).Error; err != nil {
			return nil, fmt.Errorf("failed to persist invoice: %w", err)
		}
	}

	registry, err := r.manager.CreateRegistry(invoice)
	if err != nil {
		return nil, err
	}

	r.signRegistry(registry)

	r.manager.Dispatcher().Dispatch(RegistryEvent{
		Name:           EventInvoiceRegistered,
		RegistryNumber: registry.RegistryNumber,
		InvoiceNumber:  invoice.InvoiceNumber(),
		Status:         string(registry.Status),
	})

	if !submit {
		return registry, nil
	}

	if err := r.SubmitToAeat(ctx, registry); err != nil {
		return registry, err
	}
	return registry, nil
}

// signRegistry signs the XML document when a certificate is configured.
// Signing failures are not fatal: the registry can be submitted unsigned or
// re-signed later.
func (r *InvoiceRegistrar) signRegistry(registry *models.Registry) {
	if r.certManager == nil || r.cfg == nil || !r.cfg.Certificate.Enabled || registry.XML == "" {
		return
	}

	signature, err := r.certManager.Sign(registry.XML)
	if err != nil {
		r.log.Warn().Err(err).
			Str("registry_number", registry.RegistryNumber).
			Msg("XML signing failed, registry kept unsigned")
		return
	}

	signed := registry.XML + "\n<!-- Signature: " + signature + " -->"
	if err := r.db.Model(registry).Update("signed_xml", signed).Error; err != nil {
		r.log.Warn().Err(err).
			Str("registry_number", registry.RegistryNumber).
			Msg("failed to store signed XML")
		return
	}
	registry.SignedXML = signed
}

// SubmitToAeat transmits one registry record and applies the AEAT verdict.
// Every call counts against the retry budget, whatever the outcome.
func (r *InvoiceRegistrar) SubmitToAeat(ctx context.Context, registry *models.Registry) error {
	if r.client == nil {
		return NewRegistrationError("SubmitToAeat", ErrInvalidConfiguration, "no AEAT client configured")
	}

	if !registry.Status.CanRetry() {
		return NewRegistrationError("SubmitToAeat", ErrAlreadyRegistered,
			fmt.Sprintf("registry %s cannot be submitted in status %s", registry.RegistryNumber, registry.Status))
	}

	maxAttempts := 3
	if r.cfg != nil && r.cfg.Retry.MaxAttempts > 0 {
		maxAttempts = r.cfg.Retry.MaxAttempts
	}
	if registry.Attempts >= maxAttempts {
		return NewRegistrationError("SubmitToAeat", ErrMaxAttemptsReached,
			fmt.Sprintf("registry %s used %d of %d attempts", registry.RegistryNumber, registry.Attempts, maxAttempts))
	}

	claimed, err := r.manager.ClaimForSubmission(registry)
	if err != nil {
		return err
	}
	if !claimed {
		return NewRegistrationError("SubmitToAeat", ErrConnectionFailed,
			fmt.Sprintf("registry %s is already being submitted", registry.RegistryNumber))
	}

	response, err := r.client.SendRegistration(ctx, registry)
	if err != nil {
		if markErr := r.manager.MarkAsFailed(registry, err); markErr != nil {
			r.log.Error().Err(markErr).
				Str("registry_number", registry.RegistryNumber).
				Msg("failed to record submission failure")
		}
		return err
	}

	if response.Success {
		return r.manager.MarkAsAccepted(registry, response.CSV, response.Raw)
	}

	rejection := RejectionFromResponse(response)
	if err := r.manager.MarkAsRejected(registry, rejection, response.Raw); err != nil {
		return err
	}
	return rejection
}

// Cancel transmits a cancellation for an accepted registry and tombstones the
// record. Cancellation never rewrites chain history: the record stays part of
// previous-hash lookup and verification.
func (r *InvoiceRegistrar) Cancel(ctx context.Context, registryNumber string) error {
	if r.client == nil {
		return NewRegistrationError("Cancel", ErrInvalidConfiguration, "no AEAT client configured")
	}

	registry, err := r.manager.GetByRegistryNumber(registryNumber)
	if err != nil {
		return err
	}
	if registry.Status != models.RegistryStatusAccepted {
		return NewRegistrationError("Cancel", ErrValidationFailed,
			fmt.Sprintf("registry %s cannot be cancelled in status %s", registryNumber, registry.Status))
	}

	doc, err := r.manager.BuildCancellationDocument(registryNumber)
	if err != nil {
		return err
	}

	response, err := r.client.SendCancellation(ctx, doc)
	if err != nil {
		return err
	}
	if !response.Success {
		return RejectionFromResponse(response)
	}

	return r.manager.Tombstone(registry, response.Raw)
}

// SubmitBatchToAeat transmits several registries in a single AEAT envelope.
// Records without retry budget or in a non-retryable status are left out; the
// envelope verdict applies to every record that was claimed.
func (r *InvoiceRegistrar) SubmitBatchToAeat(ctx context.Context, registries []*models.Registry) error {
	if r.client == nil {
		return NewRegistrationError("SubmitBatchToAeat", ErrInvalidConfiguration, "no AEAT client configured")
	}

	maxAttempts := 3
	if r.cfg != nil && r.cfg.Retry.MaxAttempts > 0 {
		maxAttempts = r.cfg.Retry.MaxAttempts
	}

	claimed := make([]*models.Registry, 0, len(registries))
	for _, registry := range registries {
		if !registry.Status.CanRetry() || registry.Attempts >= maxAttempts {
			continue
		}
		ok, err := r.manager.ClaimForSubmission(registry)
		if err != nil {
			return err
		}
		if ok {
			claimed = append(claimed, registry)
		}
	}
	if len(claimed) == 0 {
		return nil
	}

	doc, err := r.manager.BuildBatchDocument(claimed)
	if err != nil {
		r.markBatchFailed(claimed, err)
		return err
	}

	response, err := r.client.SendBatch(ctx, doc)
	if err != nil {
		r.markBatchFailed(claimed, err)
		return err
	}

	if response.Success {
		for _, registry := range claimed {
			if err := r.manager.MarkAsAccepted(registry, response.CSV, response.Raw); err != nil {
				return err
			}
		}
		return nil
	}

	rejection := RejectionFromResponse(response)
	for _, registry := range claimed {
		if err := r.manager.MarkAsRejected(registry, rejection, response.Raw); err != nil {
			return err
		}
	}
	return rejection
}

func (r *InvoiceRegistrar) markBatchFailed(registries []*models.Registry, cause error) {
	for _, registry := range registries {
		if err := r.manager.MarkAsFailed(registry, cause); err != nil {
			r.log.Error().Err(err).
				Str("registry_number", registry.RegistryNumber).
				Msg("failed to record submission failure")
		}
	}
}

// BatchResult summarizes a batch registration.
type BatchResult struct {
	Success    int
	Failed     int
	Registries []*models.Registry
	Errors     []error
}

// BatchRegister registers a set of invoices, continuing past individual
// failures. Registries are created in slice order so the chain order is
// deterministic within the batch. When submit is true, the surviving
// registries go to AEAT together in one envelope.
func (r *InvoiceRegistrar) BatchRegister(ctx context.Context, invoices []*models.Invoice, submit bool) *BatchResult {
	result := &BatchResult{}

	for _, invoice := range invoices {
		registry, err := r.Register(ctx, invoice, false)
		if registry != nil {
			result.Registries = append(result.Registries, registry)
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			r.log.Warn().Err(err).
				Str("invoice_number", invoice.InvoiceNumber()).
				Msg("batch registration entry failed")
			continue
		}
		result.Success++
	}

	if submit && len(result.Registries) > 0 {
		if err := r.SubmitBatchToAeat(ctx, result.Registries); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	r.log.Info().
		Int("success", result.Success).
		Int("failed", result.Failed).
		Msg("Batch registration finished")

	return result
}

// RetryResult summarizes a retry pass over failed registries.
type RetryResult struct {
	Success int
	Failed  int
	Skipped int
}

// RetryFailed resubmits failed registries that still have retry budget,
// oldest first. Registries over the attempt cap are counted as skipped and
// never touched.
func (r *InvoiceRegistrar) RetryFailed(ctx context.Context, limit int) (*RetryResult, error) {
	maxAttempts := 3
	if r.cfg != nil && r.cfg.Retry.MaxAttempts > 0 {
		maxAttempts = r.cfg.Retry.MaxAttempts
	}

	result := &RetryResult{}

	var exhausted int64
	err := r.db.Model(&models.Registry{}).
		Where("status IN ? AND attempts >= ?", []models.RegistryStatus{
			models.RegistryStatusError,
			models.RegistryStatusRejected,
		}, maxAttempts).
		Count(&exhausted).Error
	if err != nil {
		return nil, err
	}
	result.Skipped = int(exhausted)

	registries, err := r.manager.RetryableRegistries(maxAttempts, limit)
	if err != nil {
		return nil, err
	}

	for i := range registries {
		registry := &registries[i]
		if err := r.SubmitToAeat(ctx, registry); err != nil {
			if errors.Is(err, ErrMaxAttemptsReached) {
				result.Skipped++
				continue
			}
			result.Failed++
			continue
		}
		result.Success++
	}

	r.log.Info().
		Int("success", result.Success).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("Retry pass finished")

	return result, nil
}

// VerifyChain runs a full chain verification.
func (r *InvoiceRegistrar) VerifyChain() (*ChainReport, error) {
	return r.manager.VerifyChain()
}
