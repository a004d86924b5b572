package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"verifactu/app/config"
	"verifactu/app/models"
	"verifactu/internal/logger"
)

// AeatResponse is the parsed result of a submission to AEAT.
type AeatResponse struct {
	Success   bool
	CSV       string
	Estado    string
	Timestamp string
	Code      string
	Errors    []string
	Raw       string
}

// ErrorMessage joins the response errors into a single string.
func (r *AeatResponse) ErrorMessage() string {
	return strings.Join(r.Errors, "; ")
}

// AeatClient submits registry records to the AEAT web service.
type AeatClient struct {
	endpoint    string
	client      *http.Client
	certManager *CertificateManager
	log         zerolog.Logger
}

// NewAeatClient creates a client for the configured AEAT environment. The
// certificate manager is optional; without it requests go out without mutual
// TLS, which AEAT only allows on the test endpoint.
func NewAeatClient(cfg *config.AppConfig, certManager *CertificateManager) (*AeatClient, error) {
	if cfg == nil {
		return nil, NewRegistrationError("NewAeatClient", ErrInvalidConfiguration, "configuration is nil")
	}

	endpoint := cfg.AEAT.Endpoint()
	if endpoint == "" {
		return nil, NewRegistrationError("NewAeatClient", ErrInvalidConfiguration,
			fmt.Sprintf("no endpoint for environment %q", cfg.AEAT.Environment))
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.AEAT.VerifySSL,
		},
	}

	if certManager != nil {
		cert, err := certManager.TLSCertificate()
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig.Certificates = []tls.Certificate{cert}
	}

	return &AeatClient{
		endpoint:    endpoint,
		certManager: certManager,
		client: &http.Client{
			Timeout:   cfg.AEAT.Timeout(),
			Transport: transport,
		},
		log: logger.WithComponent("aeat"),
	}, nil
}

// respuestaRegFactu mirrors the relevant parts of the AEAT response document.
type respuestaRegFactu struct {
	XMLName     xml.Name         `xml:"RespuestaRegFactuSistemaFacturacion"`
	CSV         string           `xml:"CSV"`
	EstadoEnvio string           `xml:"EstadoEnvio"`
	Timestamp   string           `xml:"TimestampPresentacion"`
	Lineas      []respuestaLinea `xml:"RespuestaLinea"`
}

type respuestaLinea struct {
	EstadoRegistro    string `xml:"EstadoRegistro"`
	CodigoError       string `xml:"CodigoErrorRegistro"`
	DescripcionError  string `xml:"DescripcionErrorRegistro"`
	RegistroDuplicado string `xml:"RegistroDuplicado>IdPeticionRegistroDuplicado"`
}

// SendRegistration submits one registry record. A non-nil error means the
// submission never reached a definitive AEAT verdict; a response with
// Success=false means AEAT rejected it.
func (c *AeatClient) SendRegistration(ctx context.Context, registry *models.Registry) (*AeatResponse, error) {
	payload := registry.SignedXML
	if payload == "" {
		payload = registry.XML
	}
	if payload == "" {
		return nil, NewRegistrationError("SendRegistration", ErrConnectionFailed, "registry has no XML document")
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Str("registry_number", registry.RegistryNumber).
		Str("estado", resp.Estado).
		Bool("success", resp.Success).
		Msg("Registry sent to AEAT")

	return resp, nil
}

// SendBatch submits one document covering several registry records. AEAT
// answers the envelope as a whole, with per-line errors on rejection.
func (c *AeatClient) SendBatch(ctx context.Context, batchXML string) (*AeatResponse, error) {
	if batchXML == "" {
		return nil, NewRegistrationError("SendBatch", ErrConnectionFailed, "empty batch document")
	}
	return c.post(ctx, batchXML)
}

// SendCancellation submits a cancellation document for a registry number.
func (c *AeatClient) SendCancellation(ctx context.Context, cancellationXML string) (*AeatResponse, error) {
	return c.post(ctx, cancellationXML)
}

// TestConnection checks that the AEAT endpoint is reachable.
func (c *AeatClient) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err, c.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewRegistrationError("TestConnection", ErrAuthenticationFailed,
			fmt.Sprintf("endpoint returned status %d", resp.StatusCode))
	}

	return nil
}

func (c *AeatClient) post(ctx context.Context, payload string) (*AeatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(payload))
	if err != nil {
		return nil, NewRegistrationError("SendRegistration", ErrConnectionFailed, err.Error())
	}

	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "RegFactuSistemaFacturacion")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, c.endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewRegistrationError("SendRegistration", ErrConnectionFailed,
			fmt.Sprintf("cannot read response: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewRegistrationError("SendRegistration", ErrAuthenticationFailed,
			fmt.Sprintf("AEAT returned status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, NewRegistrationError("SendRegistration", ErrConnectionFailed,
			fmt.Sprintf("AEAT returned status %d: %s", resp.StatusCode, string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, NewRegistrationError("SendRegistration", ErrConnectionFailed,
			fmt.Sprintf("unexpected status code %d: %s", resp.StatusCode, string(body)))
	}

	return parseAeatResponse(body)
}

// parseAeatResponse maps the AEAT response document onto an AeatResponse.
// EstadoEnvio "Correcto" or a CSV code means the batch was accepted.
func parseAeatResponse(body []byte) (*AeatResponse, error) {
	var parsed respuestaRegFactu
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, NewRegistrationError("parseResponse", ErrConnectionFailed,
			fmt.Sprintf("invalid AEAT response: %v", err))
	}

	response := &AeatResponse{
		CSV:       parsed.CSV,
		Estado:    parsed.EstadoEnvio,
		Timestamp: parsed.Timestamp,
		Raw:       string(body),
	}

	if parsed.CSV != "" || parsed.EstadoEnvio == "Correcto" {
		response.Success = true
		return response, nil
	}

	for _, linea := range parsed.Lineas {
		if linea.RegistroDuplicado != "" {
			response.Errors = append(response.Errors, "Registro duplicado")
		}
		if linea.CodigoError != "" {
			if response.Code == "" {
				response.Code = linea.CodigoError
			}
			msg := linea.DescripcionError
			if msg == "" {
				msg = linea.CodigoError
			}
			response.Errors = append(response.Errors, msg)
		}
	}

	if len(response.Errors) == 0 {
		response.Errors = append(response.Errors, "Respuesta inválida del servidor AEAT")
	}

	return response, nil
}

// classifyTransportError maps low-level HTTP errors to the failure taxonomy.
// Timeouts count as connection failures so they stay retryable.
func classifyTransportError(err error, endpoint string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRegistrationError("SendRegistration", ErrConnectionFailed,
			fmt.Sprintf("request to %s timed out", endpoint))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewRegistrationError("SendRegistration", ErrConnectionFailed,
			fmt.Sprintf("request to %s timed out", endpoint))
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return NewRegistrationError("SendRegistration", ErrAuthenticationFailed, tlsErr.Error())
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "certificate") || strings.Contains(msg, "handshake") {
		return NewRegistrationError("SendRegistration", ErrAuthenticationFailed, err.Error())
	}

	return NewRegistrationError("SendRegistration", ErrConnectionFailed, err.Error())
}

// RejectionFromResponse builds the rejection error for a parsed AEAT refusal.
// AEAT error codes starting with "3" flag transient server-side conditions.
func RejectionFromResponse(resp *AeatResponse) *RejectionError {
	fieldErrors := make(map[string]string)
	for i, msg := range resp.Errors {
		fieldErrors[fmt.Sprintf("linea_%d", i+1)] = msg
	}

	return &RejectionError{
		Code:        resp.Code,
		Message:     resp.ErrorMessage(),
		FieldErrors: fieldErrors,
		Retryable:   strings.HasPrefix(resp.Code, "3"),
	}
}
