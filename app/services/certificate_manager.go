package services

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pkcs12"

	"verifactu/internal/logger"
)

// CertificateManager loads the PKCS#12 certificate used to sign registry
// documents and authenticate against AEAT.
type CertificateManager struct {
	certPath     string
	certPassword string
	log          zerolog.Logger

	privateKey  *rsa.PrivateKey
	certificate *x509.Certificate
}

// NewCertificateManager creates a CertificateManager for the given .p12 file.
// The certificate is loaded lazily on first use.
func NewCertificateManager(certPath, certPassword string) *CertificateManager {
	return &CertificateManager{
		certPath:     certPath,
		certPassword: certPassword,
		log:          logger.WithComponent("certificate"),
	}
}

// Load reads and decodes the PKCS#12 bundle.
func (m *CertificateManager) Load() error {
	if m.privateKey != nil {
		return nil
	}

	if m.certPath == "" {
		return NewRegistrationError("Load", ErrSigningFailed, "certificate path not configured")
	}

	data, err := os.ReadFile(m.certPath)
	if err != nil {
		return NewRegistrationError("Load", ErrSigningFailed,
			fmt.Sprintf("cannot read certificate file: %v", err))
	}

	key, cert, err := pkcs12.Decode(data, m.certPassword)
	if err != nil {
		return NewRegistrationError("Load", ErrSigningFailed,
			fmt.Sprintf("cannot decode PKCS#12 bundle: %v", err))
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return NewRegistrationError("Load", ErrSigningFailed, "certificate key is not RSA")
	}

	m.privateKey = rsaKey
	m.certificate = cert

	m.log.Info().
		Str("subject", cert.Subject.CommonName).
		Time("not_after", cert.NotAfter).
		Msg("Certificate loaded")

	return nil
}

// Sign computes an RSA-SHA256 signature over the document and returns it
// base64 encoded.
func (m *CertificateManager) Sign(document string) (string, error) {
	if err := m.Load(); err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(document))
	signature, err := rsa.SignPKCS1v15(rand.Reader, m.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", NewRegistrationError("Sign", ErrSigningFailed, err.Error())
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// TLSCertificate returns the certificate in the form the HTTP client needs
// for mutual TLS against the AEAT endpoint.
func (m *CertificateManager) TLSCertificate() (tls.Certificate, error) {
	if err := m.Load(); err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{m.certificate.Raw},
		PrivateKey:  m.privateKey,
		Leaf:        m.certificate,
	}, nil
}

// Subject returns the common name of the loaded certificate.
func (m *CertificateManager) Subject() (string, error) {
	if err := m.Load(); err != nil {
		return "", err
	}
	return m.certificate.Subject.CommonName, nil
}
