package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"verifactu/app/models"
	"verifactu/internal/logger"
)

// RegistryManager owns the hash chain. All registry creation goes through it
// so that previous-hash reads and inserts are serialized; it is safe for
// concurrent use.
type RegistryManager struct {
	db         *gorm.DB
	hashGen    *HashGenerator
	qrGen      *QrGenerator
	xmlBuilder *XmlBuilder
	dispatcher *EventDispatcher
	log        zerolog.Logger

	// chain guards the read-previous-hash + insert window. The database
	// transaction alone is not enough on SQLite, and the unique index on
	// chain_sequence only turns races into errors instead of preventing them.
	chain sync.Mutex
}

// NewRegistryManager creates a RegistryManager on the given database.
func NewRegistryManager(db *gorm.DB, hashGen *HashGenerator, qrGen *QrGenerator, xmlBuilder *XmlBuilder, dispatcher *EventDispatcher) *RegistryManager {
	if hashGen == nil {
		hashGen = NewHashGenerator()
	}
	if dispatcher == nil {
		dispatcher = NewEventDispatcher()
	}
	return &RegistryManager{
		db:         db,
		hashGen:    hashGen,
		qrGen:      qrGen,
		xmlBuilder: xmlBuilder,
		dispatcher: dispatcher,
		log:        logger.WithComponent("registry"),
	}
}

// Dispatcher exposes the event dispatcher so callers can subscribe.
func (m *RegistryManager) Dispatcher() *EventDispatcher {
	return m.dispatcher
}

// PreviousHash returns the hash of the newest chain node, or the empty string
// when the chain is empty. Soft-deleted records remain part of the chain.
func (m *RegistryManager) PreviousHash() (string, error) {
	var registry models.Registry
	err := m.db.Unscoped().Order("chain_sequence DESC").First(&registry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read chain head: %w", err)
	}
	return registry.Hash, nil
}

// CreateRegistry appends a new node to the chain for the given invoice.
// The previous-hash read, sequence assignment and insert happen atomically;
// the registry starts in pending status with zero attempts.
func (m *RegistryManager) CreateRegistry(invoice *models.Invoice) (*models.Registry, error) {
	if invoice == nil || invoice.ID == 0 {
		return nil, NewRegistrationError("CreateRegistry", ErrValidationFailed, "invoice is not persisted")
	}

	m.chain.Lock()
	defer m.chain.Unlock()

	var registry *models.Registry
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Registry
		err := tx.Unscoped().Where("invoice_id = ?", invoice.ID).First(&existing).Error
		if err == nil {
			return NewRegistrationError("CreateRegistry", ErrAlreadyRegistered,
				fmt.Sprintf("invoice %s already has registry %s", invoice.InvoiceNumber(), existing.RegistryNumber))
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var head models.Registry
		previousHash := ""
		var previousHashPtr *string
		sequence := uint64(1)

		err = tx.Unscoped().Order("chain_sequence DESC").First(&head).Error
		switch {
		case err == nil:
			previousHash = head.Hash
			previousHashPtr = &head.Hash
			sequence = head.ChainSequence + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
			// chain genesis
		default:
			return fmt.Errorf("failed to read chain head: %w", err)
		}

		hash, timestamp, err := m.hashGen.Generate(invoice, previousHash)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		registryNumber, err := m.nextRegistryNumber(tx, now)
		if err != nil {
			return err
		}

		registry = &models.Registry{
			InvoiceID:      invoice.ID,
			RegistryNumber: registryNumber,
			RegistryDate:   now,
			ChainSequence:  sequence,
			Hash:           hash,
			PreviousHash:   previousHashPtr,
			HashTimestamp:  timestamp,
			Status:         models.RegistryStatusPending,
		}

		if m.qrGen != nil {
			registry.QRURL = m.qrGen.GenerateURL(invoice, hash)
			if svg, err := m.qrGen.GenerateSVG(invoice, hash); err == nil {
				registry.QRSVG = svg
			} else {
				m.log.Warn().Err(err).Str("registry_number", registryNumber).Msg("QR generation failed")
			}
			if png, err := m.qrGen.GeneratePNG(invoice, hash); err == nil {
				registry.QRPNG = png
			} else {
				m.log.Warn().Err(err).Str("registry_number", registryNumber).Msg("QR generation failed")
			}
		}

		if m.xmlBuilder != nil {
			xmlDoc, err := m.xmlBuilder.BuildRegistrationXml(invoice, registry)
			if err != nil {
				return err
			}
			registry.XML = xmlDoc
		}

		return tx.Create(registry).Error
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("registry_number", registry.RegistryNumber).
		Uint64("sequence", registry.ChainSequence).
		Str("hash", registry.Hash).
		Msg("Registry created")

	m.dispatcher.Dispatch(RegistryEvent{
		Name:           EventRegistryCreated,
		RegistryNumber: registry.RegistryNumber,
		InvoiceNumber:  invoice.InvoiceNumber(),
		Status:         string(registry.Status),
	})

	return registry, nil
}

// nextRegistryNumber allocates the next REG-YYYYMMDD-NNNNNN number for the day.
func (m *RegistryManager) nextRegistryNumber(tx *gorm.DB, date time.Time) (string, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var count int64
	err := tx.Unscoped().Model(&models.Registry{}).
		Where("registry_date >= ? AND registry_date < ?", dayStart, dayStart.Add(24*time.Hour)).
		Count(&count).Error
	if err != nil {
		return "", fmt.Errorf("failed to count registries: %w", err)
	}

	return fmt.Sprintf("REG-%s-%06d", date.Format("20060102"), count+1), nil
}

// BuildBatchDocument builds one submission document covering several
// registries. Invoices are loaded for records that do not carry them.
func (m *RegistryManager) BuildBatchDocument(registries []*models.Registry) (string, error) {
	if m.xmlBuilder == nil {
		return "", NewRegistrationError("BuildBatchDocument", ErrInvalidConfiguration, "no XML builder configured")
	}

	invoices := make([]*models.Invoice, 0, len(registries))
	for _, registry := range registries {
		invoice := registry.Invoice
		if invoice == nil {
			invoice = &models.Invoice{}
			if err := m.db.Unscoped().First(invoice, registry.InvoiceID).Error; err != nil {
				return "", fmt.Errorf("failed to load invoice %d: %w", registry.InvoiceID, err)
			}
			registry.Invoice = invoice
		}
		invoices = append(invoices, invoice)
	}

	return m.xmlBuilder.BuildBatchXml(invoices, registries)
}

// BuildCancellationDocument builds the cancellation document for a registry.
func (m *RegistryManager) BuildCancellationDocument(registryNumber string) (string, error) {
	if m.xmlBuilder == nil {
		return "", NewRegistrationError("BuildCancellationDocument", ErrInvalidConfiguration, "no XML builder configured")
	}
	return m.xmlBuilder.BuildCancellationXml(registryNumber)
}

// Tombstone soft-deletes a cancelled registry. The row stays part of the
// chain: previous-hash lookup and verification keep reading it.
func (m *RegistryManager) Tombstone(registry *models.Registry, rawResponse string) error {
	if rawResponse != "" {
		if err := m.db.Model(registry).Update("aeat_response", rawResponse).Error; err != nil {
			return err
		}
		registry.AeatResponse = rawResponse
	}
	if err := m.db.Delete(registry).Error; err != nil {
		return err
	}

	m.log.Info().
		Str("registry_number", registry.RegistryNumber).
		Msg("Registry cancelled")
	return nil
}

// GetByInvoiceID loads the registry record for an invoice.
func (m *RegistryManager) GetByInvoiceID(invoiceID uint) (*models.Registry, error) {
	var registry models.Registry
	err := m.db.Where("invoice_id = ?", invoiceID).First(&registry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRegistryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &registry, nil
}

// GetByRegistryNumber loads a registry record by its REG number.
func (m *RegistryManager) GetByRegistryNumber(number string) (*models.Registry, error) {
	var registry models.Registry
	err := m.db.Where("registry_number = ?", number).First(&registry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRegistryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &registry, nil
}

// ClaimForSubmission atomically moves a registry to sent status and counts
// the attempt. It returns false when another worker holds the registry or its
// status does not allow submission.
func (m *RegistryManager) ClaimForSubmission(registry *models.Registry) (bool, error) {
	result := m.db.Model(&models.Registry{}).
		Where("id = ? AND status IN ?", registry.ID, []models.RegistryStatus{
			models.RegistryStatusPending,
			models.RegistryStatusError,
			models.RegistryStatusRejected,
		}).
		Updates(map[string]interface{}{
			"status":   models.RegistryStatusSent,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	registry.Status = models.RegistryStatusSent
	registry.Attempts++
	return true, nil
}

// MarkAsAccepted records a successful AEAT acknowledgement. Accepted is
// terminal; the registry is never submitted again.
func (m *RegistryManager) MarkAsAccepted(registry *models.Registry, csv, rawResponse string) error {
	now := time.Now().UTC()
	err := m.db.Model(registry).Updates(map[string]interface{}{
		"status":        models.RegistryStatusAccepted,
		"submitted_at":  now,
		"aeat_csv":      csv,
		"aeat_response": rawResponse,
		"aeat_error":    "",
	}).Error
	if err != nil {
		return err
	}

	registry.Status = models.RegistryStatusAccepted
	registry.SubmittedAt = &now
	registry.AeatCSV = csv
	registry.AeatResponse = rawResponse
	registry.AeatError = ""

	m.dispatcher.Dispatch(RegistryEvent{
		Name:           EventRegistrySubmitted,
		RegistryNumber: registry.RegistryNumber,
		Status:         string(registry.Status),
	})
	return nil
}

// MarkAsRejected records an AEAT rejection verdict.
func (m *RegistryManager) MarkAsRejected(registry *models.Registry, rejection *RejectionError, rawResponse string) error {
	err := m.db.Model(registry).Updates(map[string]interface{}{
		"status":        models.RegistryStatusRejected,
		"aeat_response": rawResponse,
		"aeat_error":    rejection.Error(),
	}).Error
	if err != nil {
		return err
	}

	registry.Status = models.RegistryStatusRejected
	registry.AeatResponse = rawResponse
	registry.AeatError = rejection.Error()

	m.dispatcher.Dispatch(RegistryEvent{
		Name:           EventRegistryFailed,
		RegistryNumber: registry.RegistryNumber,
		Status:         string(registry.Status),
		Error:          rejection.Error(),
	})
	return nil
}

// MarkAsFailed records a submission attempt that never got an AEAT verdict.
func (m *RegistryManager) MarkAsFailed(registry *models.Registry, cause error) error {
	err := m.db.Model(registry).Updates(map[string]interface{}{
		"status":     models.RegistryStatusError,
		"aeat_error": cause.Error(),
	}).Error
	if err != nil {
		return err
	}

	registry.Status = models.RegistryStatusError
	registry.AeatError = cause.Error()

	m.dispatcher.Dispatch(RegistryEvent{
		Name:           EventRegistryFailed,
		RegistryNumber: registry.RegistryNumber,
		Status:         string(registry.Status),
		Error:          cause.Error(),
	})
	return nil
}

// PendingRegistries returns registries that were never submitted, oldest first.
func (m *RegistryManager) PendingRegistries(limit int) ([]models.Registry, error) {
	var registries []models.Registry
	query := m.db.Where("status = ?", models.RegistryStatusPending).Order("chain_sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&registries).Error; err != nil {
		return nil, err
	}
	return registries, nil
}

// RetryableRegistries returns failed registries that still have retry budget,
// oldest first. Registries at or over maxAttempts are excluded.
func (m *RegistryManager) RetryableRegistries(maxAttempts, limit int) ([]models.Registry, error) {
	var registries []models.Registry
	query := m.db.
		Where("status IN ? AND attempts < ?", []models.RegistryStatus{
			models.RegistryStatusPending,
			models.RegistryStatusError,
			models.RegistryStatusRejected,
		}, maxAttempts).
		Order("chain_sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&registries).Error; err != nil {
		return nil, err
	}
	return registries, nil
}

// ChainReport is the outcome of a full chain verification.
type ChainReport struct {
	Valid    bool         `json:"valid"`
	Checked  int          `json:"checked"`
	Errors   []ChainError `json:"errors,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// VerifyChain walks the whole chain in sequence order and checks every link.
// The stored hashes are authoritative for link integrity; recomputing each
// fingerprint from invoice data is an additional consistency check and only
// produces a warning when the invoice row was mutated after registration.
func (m *RegistryManager) VerifyChain() (*ChainReport, error) {
	report := &ChainReport{Valid: true}

	const pageSize = 200
	previousHash := ""
	var lastSequence uint64

	for page := 0; ; page++ {
		var batch []models.Registry
		err := m.db.Unscoped().
			Preload("Invoice", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
			Order("chain_sequence ASC").
			Offset(page * pageSize).
			Limit(pageSize).
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("failed to scan chain: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			registry := &batch[i]
			report.Checked++

			if report.Checked > 1 && registry.ChainSequence != lastSequence+1 {
				report.Errors = append(report.Errors, ChainError{
					RegistryNumber: registry.RegistryNumber,
					Sequence:       registry.ChainSequence,
					Reason:         fmt.Sprintf("sequence gap after %d", lastSequence),
				})
			}

			if registry.PreviousHashValue() != previousHash {
				report.Errors = append(report.Errors, ChainError{
					RegistryNumber: registry.RegistryNumber,
					Sequence:       registry.ChainSequence,
					Expected:       previousHash,
					Found:          registry.PreviousHashValue(),
				})
			}

			if registry.Invoice != nil {
				ok, err := m.hashGen.VerifyWithTimestamp(registry.Invoice, registry.PreviousHashValue(), registry.HashTimestamp, registry.Hash)
				if err != nil {
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("%s: cannot recompute fingerprint: %v", registry.RegistryNumber, err))
				} else if !ok {
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("%s: stored fingerprint does not match invoice data", registry.RegistryNumber))
				}
			}

			previousHash = registry.Hash
			lastSequence = registry.ChainSequence
		}

		if len(batch) < pageSize {
			break
		}
	}

	report.Valid = len(report.Errors) == 0

	m.dispatcher.Dispatch(RegistryEvent{
		Name:   EventChainVerified,
		Status: fmt.Sprintf("checked=%d valid=%t", report.Checked, report.Valid),
	})

	return report, nil
}
