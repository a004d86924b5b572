package services

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopspring/decimal"

	"verifactu/app/models"
)

func testRegistry() *models.Registry {
	prev := "abc123"
	return &models.Registry{
		RegistryNumber: "REG-20250315-000002",
		Hash:           "deadbeef",
		PreviousHash:   &prev,
		HashTimestamp:  "2025-03-15T10:30:00+00:00",
	}
}

func TestBuildRegistrationXml(t *testing.T) {
	builder := NewXmlBuilder("B12345678", "Test Company SL", "TEST-001")

	invoice := testInvoice()
	invoice.Breakdowns = []models.InvoiceBreakdown{{
		TaxType:    models.TaxTypeIVA,
		TaxRate:    decimal.NewFromInt(21),
		BaseAmount: decimal.NewFromFloat(100.00),
		TaxAmount:  decimal.NewFromFloat(21.00),
	}}

	out, err := builder.BuildRegistrationXml(invoice, testRegistry())
	require.NoError(t, err)

	assert.Contains(t, out, "<?xml")
	assert.Contains(t, out, "<NIF>B12345678</NIF>")
	assert.Contains(t, out, "<NumSerieFactura>A001</NumSerieFactura>")
	assert.Contains(t, out, "<FechaExpedicionFactura>15-03-2025</FechaExpedicionFactura>")
	assert.Contains(t, out, "<TipoFactura>F1</TipoFactura>")
	assert.Contains(t, out, "<ImporteTotal>121.00</ImporteTotal>")
	assert.Contains(t, out, "<BaseImponible>100.00</BaseImponible>")
	assert.Contains(t, out, "<Cuota>21.00</Cuota>")
	assert.Contains(t, out, "<Huella>deadbeef</Huella>")
	assert.Contains(t, out, "<HuellaAnterior>abc123</HuellaAnterior>")
	assert.Contains(t, out, "<FechaHoraHusoGenRegistro>2025-03-15T10:30:00+00:00</FechaHoraHusoGenRegistro>")

	// must stay well-formed
	var doc regFactu
	require.NoError(t, xml.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.Registros, 1)
}

func TestBuildRegistrationXmlGenesisOmitsChaining(t *testing.T) {
	builder := NewXmlBuilder("B12345678", "Test Company SL", "")

	registry := testRegistry()
	registry.PreviousHash = nil

	out, err := builder.BuildRegistrationXml(testInvoice(), registry)
	require.NoError(t, err)

	assert.NotContains(t, out, "Encadenamiento")
	assert.Contains(t, out, "<Huella>deadbeef</Huella>")
}

func TestBuildBatchXml(t *testing.T) {
	builder := NewXmlBuilder("B12345678", "Test Company SL", "")

	first := testInvoice()
	second := testInvoice()
	second.Number = "002"

	out, err := builder.BuildBatchXml(
		[]*models.Invoice{first, second},
		[]*models.Registry{testRegistry(), testRegistry()},
	)
	require.NoError(t, err)

	var doc regFactu
	require.NoError(t, xml.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.Registros, 2)
}

func TestBuildBatchXmlValidatesInput(t *testing.T) {
	builder := NewXmlBuilder("B12345678", "Test Company SL", "")

	_, err := builder.BuildBatchXml(nil, nil)
	assert.Error(t, err)

	_, err = builder.BuildBatchXml([]*models.Invoice{testInvoice()}, nil)
	assert.Error(t, err)
}

func TestBuildCancellationXml(t *testing.T) {
	builder := NewXmlBuilder("B12345678", "Test Company SL", "")

	out, err := builder.BuildCancellationXml("REG-20250315-000001")
	require.NoError(t, err)

	assert.Contains(t, out, "<RegistroAnulacion>")
	assert.Contains(t, out, "<IDRegistro>REG-20250315-000001</IDRegistro>")
}
