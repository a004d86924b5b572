package services

import (
	"encoding/xml"
	"fmt"

	"verifactu/app/models"

	"github.com/shopspring/decimal"
)

const (
	xmlNamespace  = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroLR.xsd"
	systemName    = "Verifactu"
	systemVersion = "1.0"
)

// XmlBuilder renders registration documents in the AEAT SuministroLR format.
type XmlBuilder struct {
	companyTaxID string
	companyName  string
	systemID     string
}

// NewXmlBuilder creates an XmlBuilder for the given issuer.
func NewXmlBuilder(companyTaxID, companyName, systemID string) *XmlBuilder {
	if systemID == "" {
		systemID = "VERIFACTU-001"
	}
	return &XmlBuilder{
		companyTaxID: companyTaxID,
		companyName:  companyName,
		systemID:     systemID,
	}
}

type regFactu struct {
	XMLName   xml.Name          `xml:"RegFactuSistemaFacturacion"`
	Namespace string            `xml:"xmlns,attr"`
	Cabecera  cabecera          `xml:"Cabecera"`
	Registros []registroFactura `xml:"RegistroFactura"`
}

type cabecera struct {
	Obligado obligado `xml:"Obligado"`
	Sistema  sistema  `xml:"SistemaInformatico"`
}

type obligado struct {
	NombreRazon string `xml:"NombreRazon,omitempty"`
	NIF         string `xml:"NIF"`
}

type sistema struct {
	NombreSistema string `xml:"NombreSistema"`
	IdSistema     string `xml:"IdSistema"`
	Version       string `xml:"Version"`
}

type registroFactura struct {
	Alta      *registroAlta      `xml:"RegistroAlta,omitempty"`
	Anulacion *registroAnulacion `xml:"RegistroAnulacion,omitempty"`
}

type registroAlta struct {
	IDFactura      idFactura       `xml:"IDFactura"`
	DatosFactura   datosFactura    `xml:"DatosFactura"`
	Encadenamiento *encadenamiento `xml:"Encadenamiento,omitempty"`
	TipoHuella     string          `xml:"TipoHuella"`
	Huella         string          `xml:"Huella"`
	FechaHoraHuso  string          `xml:"FechaHoraHusoGenRegistro"`
}

type registroAnulacion struct {
	IDRegistro string `xml:"IDRegistro"`
}

type idFactura struct {
	IDEmisorFactura        string `xml:"IDEmisorFactura"`
	NumSerieFactura        string `xml:"NumSerieFactura"`
	FechaExpedicionFactura string `xml:"FechaExpedicionFactura"`
}

type datosFactura struct {
	TipoFactura  string     `xml:"TipoFactura"`
	ImporteTotal string     `xml:"ImporteTotal"`
	Desgloses    *desgloses `xml:"Desgloses,omitempty"`
}

type desgloses struct {
	Detalle []desglose `xml:"Desglose"`
}

type desglose struct {
	TipoImpuesto  string `xml:"TipoImpuesto"`
	BaseImponible string `xml:"BaseImponible"`
	Cuota         string `xml:"Cuota"`
}

type encadenamiento struct {
	RegistroAnterior registroAnterior `xml:"RegistroAnterior"`
}

type registroAnterior struct {
	IDRegistroAnterior string `xml:"IDRegistroAnterior,omitempty"`
	HuellaAnterior     string `xml:"HuellaAnterior"`
}

// BuildRegistrationXml builds the registration document for a single registry record.
func (b *XmlBuilder) BuildRegistrationXml(invoice *models.Invoice, registry *models.Registry) (string, error) {
	doc := b.newDocument()
	doc.Registros = []registroFactura{
		{Alta: b.buildAlta(invoice, registry)},
	}
	return b.marshal(doc)
}

// BuildBatchXml builds one registration document containing several registry records.
func (b *XmlBuilder) BuildBatchXml(invoices []*models.Invoice, registries []*models.Registry) (string, error) {
	if len(invoices) == 0 {
		return "", fmt.Errorf("cannot build XML: no invoices")
	}
	if len(invoices) != len(registries) {
		return "", fmt.Errorf("cannot build XML: %d invoices but %d registries", len(invoices), len(registries))
	}

	doc := b.newDocument()
	doc.Registros = make([]registroFactura, 0, len(invoices))
	for i, invoice := range invoices {
		doc.Registros = append(doc.Registros, registroFactura{
			Alta: b.buildAlta(invoice, registries[i]),
		})
	}
	return b.marshal(doc)
}

// BuildCancellationXml builds the cancellation document for a registry number.
func (b *XmlBuilder) BuildCancellationXml(registryNumber string) (string, error) {
	doc := b.newDocument()
	doc.Registros = []registroFactura{
		{Anulacion: &registroAnulacion{IDRegistro: registryNumber}},
	}
	return b.marshal(doc)
}

func (b *XmlBuilder) newDocument() *regFactu {
	return &regFactu{
		Namespace: xmlNamespace,
		Cabecera: cabecera{
			Obligado: obligado{
				NombreRazon: b.companyName,
				NIF:         b.companyTaxID,
			},
			Sistema: sistema{
				NombreSistema: systemName,
				IdSistema:     b.systemID,
				Version:       systemVersion,
			},
		},
	}
}

func (b *XmlBuilder) buildAlta(invoice *models.Invoice, registry *models.Registry) *registroAlta {
	alta := &registroAlta{
		IDFactura: idFactura{
			IDEmisorFactura:        invoice.IssuerTaxID,
			NumSerieFactura:        invoice.InvoiceNumber(),
			FechaExpedicionFactura: invoice.IssueDate.Format("02-01-2006"),
		},
		DatosFactura: datosFactura{
			TipoFactura:  string(invoice.Type),
			ImporteTotal: formatAmount(invoice.TotalAmount),
		},
		TipoHuella:    "01", // SHA-256
		Huella:        registry.Hash,
		FechaHoraHuso: registry.HashTimestamp,
	}

	if len(invoice.Breakdowns) > 0 {
		det := make([]desglose, 0, len(invoice.Breakdowns))
		for _, bd := range invoice.Breakdowns {
			det = append(det, desglose{
				TipoImpuesto:  string(bd.TaxType),
				BaseImponible: formatAmount(bd.BaseAmount),
				Cuota:         formatAmount(bd.TaxAmount),
			})
		}
		alta.DatosFactura.Desgloses = &desgloses{Detalle: det}
	}

	if prev := registry.PreviousHashValue(); prev != "" {
		alta.Encadenamiento = &encadenamiento{
			RegistroAnterior: registroAnterior{
				HuellaAnterior: prev,
			},
		}
	}

	return alta
}

func (b *XmlBuilder) marshal(doc *regFactu) (string, error) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cannot build XML: %w", err)
	}
	return xml.Header + string(out), nil
}

// formatAmount renders a monetary amount with two decimals and dot separator.
func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
