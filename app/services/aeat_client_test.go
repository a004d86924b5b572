package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubClient(t *testing.T, endpoint string) *AeatClient {
	t.Helper()

	cfg := testConfig()
	cfg.AEAT.SandboxEndpoint = endpoint
	client, err := NewAeatClient(cfg, nil)
	require.NoError(t, err)
	return client
}

func TestParseAcceptedResponse(t *testing.T) {
	resp, err := parseAeatResponse([]byte(acceptedResponse))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "CSV-TEST-001", resp.CSV)
	assert.Equal(t, "Correcto", resp.Estado)
	assert.Equal(t, "2025-03-15T10:30:05+01:00", resp.Timestamp)
}

func TestParseRejectedResponse(t *testing.T) {
	resp, err := parseAeatResponse([]byte(rejectedResponse))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, "1100", resp.Code)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "NIF del emisor")
}

func TestParseDuplicateResponse(t *testing.T) {
	body := `<RespuestaRegFactuSistemaFacturacion>
  <EstadoEnvio>Incorrecto</EstadoEnvio>
  <RespuestaLinea>
    <RegistroDuplicado><IdPeticionRegistroDuplicado>PET-1</IdPeticionRegistroDuplicado></RegistroDuplicado>
  </RespuestaLinea>
</RespuestaRegFactuSistemaFacturacion>`

	resp, err := parseAeatResponse([]byte(body))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Errors, "Registro duplicado")
}

func TestParseGarbageResponse(t *testing.T) {
	_, err := parseAeatResponse([]byte("not xml at all"))
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestClassifyTransportErrorTimeout(t *testing.T) {
	err := classifyTransportError(context.DeadlineExceeded, "https://example.test")
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestClassifyTransportErrorCertificate(t *testing.T) {
	err := classifyTransportError(errors.New("remote error: tls: bad certificate"), "https://example.test")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestClassificationIsStable(t *testing.T) {
	// classifying the same failure twice must give the same class
	cause := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	first := classifyTransportError(cause, "https://example.test")
	second := classifyTransportError(cause, "https://example.test")

	assert.Equal(t, errors.Is(first, ErrConnectionFailed), errors.Is(second, ErrConnectionFailed))
	assert.Equal(t, errors.Is(first, ErrAuthenticationFailed), errors.Is(second, ErrAuthenticationFailed))
}

func TestSendRegistrationTimesOut(t *testing.T) {
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, acceptedResponse)
	})

	cfg := testConfig()
	cfg.AEAT.SandboxEndpoint = server.URL
	cfg.AEAT.TimeoutSeconds = 5
	client, err := NewAeatClient(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	registry := testRegistry()
	registry.XML = "<doc/>"

	_, err = client.SendRegistration(ctx, registry)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestSendRegistrationNeedsDocument(t *testing.T) {
	client := newStubClient(t, "https://example.test")

	_, err := client.SendRegistration(context.Background(), testRegistry())
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestSendRegistrationPrefersSignedXML(t *testing.T) {
	var received string
	server := aeatStub(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		fmt.Fprint(w, acceptedResponse)
	})

	client := newStubClient(t, server.URL)

	registry := testRegistry()
	registry.XML = "<plain/>"
	registry.SignedXML = "<signed/>"

	_, err := client.SendRegistration(context.Background(), registry)
	require.NoError(t, err)
	assert.Equal(t, "<signed/>", received)
}
