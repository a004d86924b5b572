package models

// InvoiceType is the AEAT invoice type code (L2 list).
type InvoiceType string

const (
	InvoiceTypeComplete                       InvoiceType = "F1" // Factura completa
	InvoiceTypeSimplified                     InvoiceType = "F2" // Factura simplificada
	InvoiceTypeRectificative                  InvoiceType = "R1" // Factura rectificativa
	InvoiceTypeRectificativeSimplified        InvoiceType = "R2"
	InvoiceTypeRectificativeBySubstitution    InvoiceType = "R3"
	InvoiceTypeRectificativeSummary           InvoiceType = "R4"
	InvoiceTypeRectificativeSummarySimplified InvoiceType = "R5"
)

// IsRectificative reports whether the type is any of the R* variants.
func (t InvoiceType) IsRectificative() bool {
	switch t {
	case InvoiceTypeRectificative,
		InvoiceTypeRectificativeSimplified,
		InvoiceTypeRectificativeBySubstitution,
		InvoiceTypeRectificativeSummary,
		InvoiceTypeRectificativeSummarySimplified:
		return true
	}
	return false
}

// IsSimplified reports whether the type is a simplified variant.
func (t InvoiceType) IsSimplified() bool {
	switch t {
	case InvoiceTypeSimplified,
		InvoiceTypeRectificativeSimplified,
		InvoiceTypeRectificativeSummarySimplified:
		return true
	}
	return false
}

// IsValid reports whether the code is a known invoice type.
func (t InvoiceType) IsValid() bool {
	switch t {
	case InvoiceTypeComplete, InvoiceTypeSimplified:
		return true
	}
	return t.IsRectificative()
}

// Description returns the human-readable Spanish description used in reports.
func (t InvoiceType) Description() string {
	switch t {
	case InvoiceTypeComplete:
		return "Factura completa"
	case InvoiceTypeSimplified:
		return "Factura simplificada"
	case InvoiceTypeRectificative:
		return "Factura rectificativa"
	case InvoiceTypeRectificativeSimplified:
		return "Factura rectificativa simplificada"
	case InvoiceTypeRectificativeBySubstitution:
		return "Factura rectificativa por sustitución"
	case InvoiceTypeRectificativeSummary:
		return "Factura rectificativa resumen"
	case InvoiceTypeRectificativeSummarySimplified:
		return "Factura rectificativa resumen simplificada"
	}
	return string(t)
}

// IDType is the AEAT identification document type for foreign recipients (L7 list).
type IDType string

const (
	IDTypeNIF                  IDType = "02" // NIF-IVA
	IDTypePassport             IDType = "03"
	IDTypeOfficialDoc          IDType = "04" // Documento oficial del país de residencia
	IDTypeResidenceCertificate IDType = "05"
	IDTypeOther                IDType = "06"
	IDTypeNotRegistered        IDType = "07" // No censado
)

// IsSpanishID reports whether the document is a Spanish NIF.
func (t IDType) IsSpanishID() bool { return t == IDTypeNIF }

// IsForeignID reports whether the document identifies a foreign party.
func (t IDType) IsForeignID() bool { return !t.IsSpanishID() && t != IDTypeNotRegistered }

// OperationType is the AEAT operation qualification code.
type OperationType string

const (
	OperationNormal             OperationType = "01"
	OperationIntraCommunity     OperationType = "02"
	OperationImport             OperationType = "03"
	OperationReverseCharge      OperationType = "04"
	OperationNotSubjectLocation OperationType = "05" // No sujeto por reglas de localización
	OperationNotSubjectOther    OperationType = "06"
	OperationExempt             OperationType = "07"
)

// IsSubjectToTax reports whether the operation carries tax.
func (o OperationType) IsSubjectToTax() bool {
	switch o {
	case OperationNotSubjectLocation, OperationNotSubjectOther, OperationExempt:
		return false
	}
	return true
}

// RegimeType is the AEAT special regime code (L8 list).
type RegimeType string

const (
	RegimeGeneral              RegimeType = "01"
	RegimeExport               RegimeType = "02"
	RegimeUsedGoods            RegimeType = "03"
	RegimeGoldInvestment       RegimeType = "04"
	RegimeTravelAgencies       RegimeType = "05"
	RegimeCashCriterion        RegimeType = "07"
	RegimeAgriculture          RegimeType = "08"
	RegimeIPSI                 RegimeType = "09"
	RegimeThirdPartyBilling    RegimeType = "10"
	RegimeEquivalenceSurcharge RegimeType = "11"
	RegimeSimplified           RegimeType = "12"
	RegimeObjectiveEstimation  RegimeType = "13"
	RegimeFreeZone             RegimeType = "14"
	RegimeNotSubject           RegimeType = "15"
)

// IsSpecialRegime reports whether the regime differs from the general one.
func (r RegimeType) IsSpecialRegime() bool { return r != RegimeGeneral }

// TaxType is the AEAT tax kind for an invoice breakdown line.
type TaxType string

const (
	TaxTypeIVA   TaxType = "01"
	TaxTypeIPSI  TaxType = "02" // Ceuta y Melilla
	TaxTypeIGIC  TaxType = "03" // Canarias
	TaxTypeOther TaxType = "05"
)

// RegistryStatus is the submission state of a registry entry.
type RegistryStatus string

const (
	RegistryStatusPending  RegistryStatus = "pending"
	RegistryStatusSent     RegistryStatus = "sent"
	RegistryStatusAccepted RegistryStatus = "accepted"
	RegistryStatusRejected RegistryStatus = "rejected"
	RegistryStatusError    RegistryStatus = "error"
)

// IsFinal reports whether the status is a terminal outcome from AEAT.
func (s RegistryStatus) IsFinal() bool {
	return s == RegistryStatusAccepted || s == RegistryStatusRejected
}

// IsSuccessful reports whether AEAT explicitly confirmed the registry.
func (s RegistryStatus) IsSuccessful() bool { return s == RegistryStatusAccepted }

// CanRetry reports whether a new submission attempt is permitted for the status.
// Accepted is terminal success and sent means an acknowledged transmission is
// in flight, so neither may be re-submitted.
func (s RegistryStatus) CanRetry() bool {
	switch s {
	case RegistryStatusPending, RegistryStatusError, RegistryStatusRejected:
		return true
	}
	return false
}

// Description returns the human-readable status description.
func (s RegistryStatus) Description() string {
	switch s {
	case RegistryStatusPending:
		return "Pendiente de envío"
	case RegistryStatusSent:
		return "Enviado a AEAT"
	case RegistryStatusAccepted:
		return "Aceptado por AEAT"
	case RegistryStatusRejected:
		return "Rechazado por AEAT"
	case RegistryStatusError:
		return "Error en procesamiento"
	}
	return string(s)
}
