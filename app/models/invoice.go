package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice represents an invoice with all fields required by the AEAT
// Verifactu registration. An invoice is immutable once a registry entry
// has been created for it.
type Invoice struct {
	ID               uint               `gorm:"primaryKey" json:"id"`
	IssuerTaxID      string             `gorm:"not null;index" json:"issuer_tax_id"` // NIF/CIF del emisor
	Serie            string             `json:"serie"`
	Number           string             `gorm:"not null" json:"number"`
	IssueDate        time.Time          `gorm:"not null" json:"issue_date"`
	IssueTime        time.Time          `json:"issue_time"`
	Type             InvoiceType        `gorm:"not null" json:"type"`
	RectifiedSerie   string             `json:"rectified_serie,omitempty"`  // Serie of the invoice being rectified (R* types)
	RectifiedNumber  string             `json:"rectified_number,omitempty"` // Number of the invoice being rectified
	BaseAmount       decimal.Decimal    `gorm:"type:decimal(12,2)" json:"base_amount"`
	TaxAmount        decimal.Decimal    `gorm:"type:decimal(12,2)" json:"tax_amount"`
	TotalAmount      decimal.Decimal    `gorm:"type:decimal(12,2)" json:"total_amount"`
	Currency         string             `gorm:"default:EUR" json:"currency"`
	RecipientNIF     *string            `json:"recipient_nif,omitempty"`
	RecipientIDType  *IDType            `json:"recipient_id_type,omitempty"`
	RecipientID      *string            `json:"recipient_id,omitempty"`
	RecipientName    *string            `json:"recipient_name,omitempty"`
	RecipientCountry *string            `json:"recipient_country,omitempty"`
	RegimeType       RegimeType         `gorm:"default:01" json:"regime_type"`
	OperationKey     OperationType      `gorm:"default:01" json:"operation_key"`
	Description      string             `json:"description"`
	Metadata         map[string]string  `gorm:"serializer:json" json:"metadata,omitempty"`
	Breakdowns       []InvoiceBreakdown `gorm:"foreignKey:InvoiceID" json:"breakdowns,omitempty"`
	Registry         *Registry          `gorm:"foreignKey:InvoiceID" json:"registry,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	DeletedAt        gorm.DeletedAt     `gorm:"index" json:"deleted_at,omitempty"`
}

// InvoiceNumber returns the full serialized invoice number (serie + number).
func (i *Invoice) InvoiceNumber() string {
	return i.Serie + i.Number
}

// HasRecipient reports whether the invoice carries recipient identification.
func (i *Invoice) HasRecipient() bool {
	return (i.RecipientNIF != nil && *i.RecipientNIF != "") ||
		(i.RecipientID != nil && *i.RecipientID != "")
}

// RecipientKind discriminates the recipient variants of an invoice.
type RecipientKind int

const (
	RecipientNone RecipientKind = iota
	RecipientDomestic
	RecipientForeign
)

// Recipient is an immutable view over the recipient columns of an invoice.
// Domestic recipients carry a Spanish NIF; foreign ones an id type, id and
// country code.
type Recipient struct {
	Kind    RecipientKind
	NIF     string
	IDType  IDType
	ID      string
	Name    string
	Country string
}

// Recipient builds the recipient value for the invoice, or a zero value with
// Kind RecipientNone when the invoice has no recipient (simplified invoices).
func (i *Invoice) Recipient() Recipient {
	if !i.HasRecipient() {
		return Recipient{Kind: RecipientNone}
	}
	r := Recipient{Name: deref(i.RecipientName)}
	if i.RecipientNIF != nil && *i.RecipientNIF != "" {
		r.Kind = RecipientDomestic
		r.NIF = *i.RecipientNIF
		return r
	}
	r.Kind = RecipientForeign
	r.ID = deref(i.RecipientID)
	r.Country = deref(i.RecipientCountry)
	if i.RecipientIDType != nil {
		r.IDType = *i.RecipientIDType
	}
	return r
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// InvoiceBreakdown represents one tax line of an invoice. Breakdowns are
// created together with the invoice and are immutable afterwards.
type InvoiceBreakdown struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	InvoiceID       uint             `gorm:"not null;index" json:"invoice_id"`
	Invoice         *Invoice         `gorm:"foreignKey:InvoiceID" json:"-"`
	TaxType         TaxType          `gorm:"default:01" json:"tax_type"`
	TaxRate         decimal.Decimal  `gorm:"type:decimal(5,2)" json:"tax_rate"`
	BaseAmount      decimal.Decimal  `gorm:"type:decimal(12,2)" json:"base_amount"`
	TaxAmount       decimal.Decimal  `gorm:"type:decimal(12,2)" json:"tax_amount"`
	SurchargeRate   *decimal.Decimal `gorm:"type:decimal(5,2)" json:"surcharge_rate,omitempty"` // Recargo de equivalencia
	SurchargeAmount *decimal.Decimal `gorm:"type:decimal(12,2)" json:"surcharge_amount,omitempty"`
	Exempt          bool             `gorm:"default:false" json:"exempt"`
	ExemptionReason string           `json:"exemption_reason,omitempty"` // E1-E6 exemption cause code
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	DeletedAt       gorm.DeletedAt   `gorm:"index" json:"deleted_at,omitempty"`
}

// ExpectedTaxAmount computes base × rate/100 rounded to 2 decimals, the
// amount an exempt line must not carry.
func (b *InvoiceBreakdown) ExpectedTaxAmount() decimal.Decimal {
	return b.BaseAmount.Mul(b.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
}
