package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"verifactu/app/models"
)

// Field names and formats follow the AEAT record specification for the
// "huella" fingerprint. The canonical string must be reproduced byte for byte
// or verification against AEAT fails.
const (
	hashDateFormat      = "02-01-2006"
	hashTimestampFormat = "2006-01-02T15:04:05-07:00"
)

// HashGenerator computes the SHA-256 fingerprint that links each registry
// record to its predecessor.
type HashGenerator struct {
	now func() time.Time
}

// NewHashGenerator creates a HashGenerator using the system clock.
func NewHashGenerator() *HashGenerator {
	return &HashGenerator{now: time.Now}
}

// WithClock overrides the generator's clock. Intended for tests.
func (g *HashGenerator) WithClock(now func() time.Time) *HashGenerator {
	g.now = now
	return g
}

// Generate computes the fingerprint for an invoice chained to previousHash.
// It returns the lowercase hex hash together with the generation timestamp
// that was hashed, already rendered in the AEAT format; the timestamp must be
// persisted with the record so the hash can be recomputed later.
func (g *HashGenerator) Generate(invoice *models.Invoice, previousHash string) (string, string, error) {
	timestamp := g.now().Format(hashTimestampFormat)

	hash, err := g.compute(invoice, previousHash, timestamp)
	if err != nil {
		return "", "", err
	}
	return hash, timestamp, nil
}

// VerifyWithTimestamp recomputes the fingerprint using the timestamp stored
// at generation time and reports whether it matches the expected hash.
func (g *HashGenerator) VerifyWithTimestamp(invoice *models.Invoice, previousHash, timestamp, expected string) (bool, error) {
	hash, err := g.compute(invoice, previousHash, timestamp)
	if err != nil {
		return false, err
	}
	return hash == expected, nil
}

func (g *HashGenerator) compute(invoice *models.Invoice, previousHash, timestamp string) (string, error) {
	if invoice == nil {
		return "", NewRegistrationError("Generate", ErrHashGenerationFailed, "invoice is nil")
	}
	if invoice.IssuerTaxID == "" {
		return "", NewRegistrationError("Generate", ErrHashGenerationFailed, "issuer tax ID is empty")
	}
	if invoice.InvoiceNumber() == "" {
		return "", NewRegistrationError("Generate", ErrHashGenerationFailed, "invoice number is empty")
	}
	if invoice.IssueDate.IsZero() {
		return "", NewRegistrationError("Generate", ErrHashGenerationFailed, "issue date is zero")
	}
	if !invoice.Type.IsValid() {
		return "", NewRegistrationError("Generate", ErrHashGenerationFailed,
			fmt.Sprintf("unknown invoice type %q", invoice.Type))
	}

	input := g.canonicalString(invoice, previousHash, timestamp)

	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalString builds the exact field string AEAT hashes. Key order,
// date formats and two-decimal amounts are all mandated. The Huella field
// only appears when there is a predecessor; the first record of a chain
// hashes without it.
func (g *HashGenerator) canonicalString(invoice *models.Invoice, previousHash, timestamp string) string {
	fields := []string{
		"IDEmisorFactura=" + invoice.IssuerTaxID,
		"NumSerieFactura=" + invoice.InvoiceNumber(),
		"FechaExpedicionFactura=" + invoice.IssueDate.Format(hashDateFormat),
		"TipoFactura=" + string(invoice.Type),
		"CuotaTotal=" + invoice.TaxAmount.StringFixed(2),
		"ImporteTotal=" + invoice.TotalAmount.StringFixed(2),
	}
	if previousHash != "" {
		fields = append(fields, "Huella="+previousHash)
	}
	fields = append(fields, "FechaHoraHusoGenRegistro="+timestamp)
	return strings.Join(fields, "&")
}
