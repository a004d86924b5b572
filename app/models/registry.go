package models

import (
	"time"

	"gorm.io/gorm"
)

// Registry represents one node of the hash-chained registration ledger.
// There is exactly one registry per invoice; entries are created once and
// never re-created. Chain order is the monotonic ChainSequence assigned
// inside the creation transaction; (registry_date, id) remains the
// reporting order AEAT expects.
type Registry struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	InvoiceID      uint           `gorm:"uniqueIndex;not null" json:"invoice_id"`
	Invoice        *Invoice       `gorm:"foreignKey:InvoiceID" json:"-"`
	RegistryNumber string         `gorm:"unique;not null" json:"registry_number"` // REG-YYYYMMDD-NNNNNN
	RegistryDate   time.Time      `gorm:"not null;index:idx_registries_chain_order,priority:1" json:"registry_date"`
	ChainSequence  uint64         `gorm:"uniqueIndex;not null" json:"chain_sequence"`
	Hash           string         `gorm:"size:64;uniqueIndex;not null" json:"hash"`
	PreviousHash   *string        `gorm:"size:64" json:"previous_hash,omitempty"` // nil only for the first node ever created
	HashTimestamp  string         `gorm:"not null" json:"hash_timestamp"`         // frozen FechaHoraHusoGenRegistro used as hash input
	QRURL          string         `json:"qr_url"`
	QRSVG          string         `gorm:"type:text" json:"qr_svg"`
	QRPNG          []byte         `json:"qr_png,omitempty"`
	XML            string         `gorm:"type:text" json:"xml"`
	SignedXML      string         `gorm:"type:text" json:"signed_xml,omitempty"`
	Status         RegistryStatus `gorm:"default:pending;index" json:"status"`
	SubmittedAt    *time.Time     `json:"submitted_at,omitempty"`
	AeatCSV        string         `json:"aeat_csv,omitempty"` // Código Seguro de Verificación
	AeatResponse   string         `gorm:"type:text" json:"aeat_response,omitempty"`
	AeatError      string         `gorm:"type:text" json:"aeat_error,omitempty"`
	Attempts       int            `gorm:"default:0" json:"attempts"` // incremented on every submission attempt
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// IsPending reports whether the registry has not been transmitted yet.
func (r *Registry) IsPending() bool { return r.Status == RegistryStatusPending }

// IsSubmitted reports whether the registry was transmitted and acknowledged.
func (r *Registry) IsSubmitted() bool {
	return r.Status == RegistryStatusSent || r.Status == RegistryStatusAccepted
}

// HasErrors reports whether the last submission attempt failed.
func (r *Registry) HasErrors() bool { return r.Status == RegistryStatusError }

// PreviousHashValue returns the previous hash or the empty string for the
// chain genesis node.
func (r *Registry) PreviousHashValue() string {
	if r.PreviousHash == nil {
		return ""
	}
	return *r.PreviousHash
}
