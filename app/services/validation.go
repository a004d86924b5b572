package services

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"verifactu/app/models"
)

var nifPattern = regexp.MustCompile(`^[0-9A-Z][0-9]{7}[0-9A-Z]$`)

// InvoiceValidator checks that an invoice satisfies the registration rules
// before a registry record is created for it.
type InvoiceValidator struct{}

// NewInvoiceValidator creates an InvoiceValidator.
func NewInvoiceValidator() *InvoiceValidator {
	return &InvoiceValidator{}
}

// Validate returns the first rule violation found, or nil when the invoice
// can be registered.
func (v *InvoiceValidator) Validate(invoice *models.Invoice) error {
	if invoice == nil {
		return NewValidationError("invoice", nil, "invoice is nil")
	}

	if invoice.IssuerTaxID == "" {
		return NewValidationError("issuer_tax_id", "", "issuer tax ID is required")
	}
	if !nifPattern.MatchString(invoice.IssuerTaxID) {
		return NewValidationError("issuer_tax_id", invoice.IssuerTaxID, "not a valid Spanish NIF/CIF")
	}
	if invoice.Number == "" {
		return NewValidationError("number", "", "invoice number is required")
	}
	if invoice.IssueDate.IsZero() {
		return NewValidationError("issue_date", nil, "issue date is required")
	}
	if !invoice.Type.IsValid() {
		return NewValidationError("type", string(invoice.Type), "unknown invoice type")
	}

	if invoice.Type.IsRectificative() {
		if invoice.RectifiedNumber == "" {
			return NewValidationError("rectified_number", "",
				fmt.Sprintf("type %s requires the rectified invoice number", invoice.Type))
		}
	}

	if !invoice.Type.IsSimplified() && !invoice.HasRecipient() {
		return NewValidationError("recipient", nil,
			fmt.Sprintf("type %s requires a recipient", invoice.Type))
	}

	if recipient := invoice.Recipient(); recipient.Kind == models.RecipientForeign {
		if recipient.Country == "" {
			return NewValidationError("recipient_country", "", "foreign recipient requires a country code")
		}
		if recipient.IDType == "" || recipient.IDType.IsSpanishID() {
			return NewValidationError("recipient_id_type", string(recipient.IDType),
				"foreign recipient requires a foreign id type")
		}
	}

	if invoice.TotalAmount.IsZero() && invoice.BaseAmount.IsZero() {
		return NewValidationError("total_amount", "0", "invoice amounts are required")
	}

	expectedTotal := invoice.BaseAmount.Add(invoice.TaxAmount)
	if !invoice.TotalAmount.Equal(expectedTotal) {
		return NewValidationError("total_amount", invoice.TotalAmount.String(),
			fmt.Sprintf("total must equal base plus tax (%s)", expectedTotal))
	}

	return v.validateBreakdowns(invoice)
}

func (v *InvoiceValidator) validateBreakdowns(invoice *models.Invoice) error {
	if len(invoice.Breakdowns) == 0 {
		return nil
	}

	base := decimal.Zero
	tax := decimal.Zero

	for i, bd := range invoice.Breakdowns {
		field := fmt.Sprintf("breakdowns[%d]", i)

		if bd.TaxType == "" {
			return NewValidationError(field+".tax_type", "", "tax type is required")
		}

		if bd.Exempt {
			if bd.ExemptionReason == "" {
				return NewValidationError(field+".exemption_reason", "", "exempt line requires a reason code")
			}
			if !bd.TaxAmount.IsZero() {
				return NewValidationError(field+".tax_amount", bd.TaxAmount.String(),
					"exempt line must not carry tax")
			}
		} else {
			expected := bd.ExpectedTaxAmount()
			if !bd.TaxAmount.Equal(expected) {
				return NewValidationError(field+".tax_amount", bd.TaxAmount.String(),
					fmt.Sprintf("tax must equal base times rate (%s)", expected))
			}
		}

		base = base.Add(bd.BaseAmount)
		tax = tax.Add(bd.TaxAmount)
		if bd.SurchargeAmount != nil {
			tax = tax.Add(*bd.SurchargeAmount)
		}
	}

	if !base.Equal(invoice.BaseAmount) {
		return NewValidationError("base_amount", invoice.BaseAmount.String(),
			fmt.Sprintf("breakdown bases sum to %s", base))
	}
	if !tax.Equal(invoice.TaxAmount) {
		return NewValidationError("tax_amount", invoice.TaxAmount.String(),
			fmt.Sprintf("breakdown taxes sum to %s", tax))
	}

	return nil
}
