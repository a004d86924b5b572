package services

import (
	"fmt"
	"net/url"
	"strings"

	"verifactu/app/models"

	qrcode "github.com/skip2/go-qrcode"
)

// QrGenerator produces the AEAT validation QR codes that must be printed on
// registered invoices.
type QrGenerator struct {
	validationURL string
	size          int
}

// NewQrGenerator creates a QrGenerator for the given validation endpoint and
// image size in pixels.
func NewQrGenerator(validationURL string, size int) *QrGenerator {
	if size <= 0 {
		size = 300
	}
	return &QrGenerator{
		validationURL: validationURL,
		size:          size,
	}
}

// GenerateURL builds the validation URL encoded in the QR code.
// Format: URL?nif=XXX&num=YYY&fecha=ZZZ&tipo=TTT&hash=HHH
func (q *QrGenerator) GenerateURL(invoice *models.Invoice, hash string) string {
	params := url.Values{}
	params.Set("nif", invoice.IssuerTaxID)
	params.Set("num", invoice.InvoiceNumber())
	params.Set("fecha", invoice.IssueDate.Format("02-01-2006"))
	params.Set("tipo", string(invoice.Type))
	params.Set("hash", hash)

	return q.validationURL + "?" + params.Encode()
}

// GeneratePNG generates the QR code as raw PNG bytes.
func (q *QrGenerator) GeneratePNG(invoice *models.Invoice, hash string) ([]byte, error) {
	png, err := qrcode.Encode(q.GenerateURL(invoice, hash), qrcode.Medium, q.size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	return png, nil
}

// GenerateSVG generates the QR code as an SVG document.
func (q *QrGenerator) GenerateSVG(invoice *models.Invoice, hash string) (string, error) {
	code, err := qrcode.New(q.GenerateURL(invoice, hash), qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}

	bitmap := code.Bitmap()
	modules := len(bitmap)
	if modules == 0 {
		return "", fmt.Errorf("failed to generate QR code: empty bitmap")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		q.size, q.size, modules, modules)
	sb.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&sb, `<rect x="%d" y="%d" width="1" height="1" fill="#000000"/>`, x, y)
			}
		}
	}
	sb.WriteString(`</svg>`)

	return sb.String(), nil
}
