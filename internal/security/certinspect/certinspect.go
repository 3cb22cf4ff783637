// Package certinspect parsea y valida los certificados X.509 que presentan
// los TPP (eIDAS QWAC/QSealC o equivalentes).
//
// La validación es puntual: el certificado debe estar dentro de su ventana
// [NotBefore, NotAfter]. Revocación y cadena de CA se conectan vía
// RevocationChecker.
package certinspect

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed indica que el contenido no es un certificado parseable.
var ErrMalformed = errors.New("certinspect: malformed certificate")

// Status es el resultado de Validate.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusExpired Status = "EXPIRED"
	StatusInvalid Status = "INVALID"
)

// Info son los datos de un certificado relevantes para el registro de TPPs.
type Info struct {
	SerialNumber string    `json:"serialNumber"`
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidUntil   time.Time `json:"validUntil"`
}

// IsZero indica si Info está vacía.
func (i Info) IsZero() bool { return i.SerialNumber == "" && i.Subject == "" }

// RevocationChecker consulta revocación (CRL/OCSP). Devuelve true si está revocado.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, cert *x509.Certificate) (bool, error)
}

// Options configura un Inspector.
type Options struct {
	// ValidationEnabled=false hace que Validate devuelva siempre StatusValid.
	ValidationEnabled bool
	Revocation        RevocationChecker
	Now               func() time.Time
}

// Inspector es seguro para uso concurrente.
type Inspector struct {
	enabled bool
	rev     RevocationChecker
	now     func() time.Time
}

// New crea un Inspector.
func New(opts Options) *Inspector {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Inspector{enabled: opts.ValidationEnabled, rev: opts.Revocation, now: now}
}

// Enabled indica si la validación está activa.
func (i *Inspector) Enabled() bool { return i.enabled }

// Parse acepta PEM o base64 de DER (con o sin espacios/saltos de línea).
func (i *Inspector) Parse(raw string) (*x509.Certificate, error) {
	der, err := decode(raw)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return cert, nil
}

func decode(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if strings.Contains(raw, "-----BEGIN") {
		block, _ := pem.Decode([]byte(raw))
		if block == nil {
			return nil, fmt.Errorf("%w: invalid PEM framing", ErrMalformed)
		}
		return block.Bytes, nil
	}
	// Algunos proxies parten el header en varias líneas.
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, raw)
	der, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		if der, err = base64.RawStdEncoding.DecodeString(clean); err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
		}
	}
	return der, nil
}

// Validate chequea la ventana de validez y, si hay checker, la revocación.
func (i *Inspector) Validate(ctx context.Context, cert *x509.Certificate) Status {
	if !i.enabled {
		return StatusValid
	}
	if cert == nil {
		return StatusInvalid
	}
	now := i.now()
	switch {
	case now.Before(cert.NotBefore):
		return StatusInvalid
	case now.After(cert.NotAfter):
		return StatusExpired
	}
	if i.rev != nil {
		revoked, err := i.rev.IsRevoked(ctx, cert)
		if err != nil || revoked {
			return StatusInvalid
		}
	}
	return StatusValid
}

// ValidateWindow aplica el mismo chequeo temporal a un certificado ya
// registrado (sin el DER a mano).
func (i *Inspector) ValidateWindow(from, until time.Time) Status {
	if !i.enabled {
		return StatusValid
	}
	now := i.now()
	switch {
	case now.Before(from):
		return StatusInvalid
	case now.After(until):
		return StatusExpired
	}
	return StatusValid
}

// ExtractInfo devuelve los datos del certificado; nil → Info vacía.
func ExtractInfo(cert *x509.Certificate) Info {
	if cert == nil {
		return Info{}
	}
	return Info{
		SerialNumber: strings.ToUpper(cert.SerialNumber.Text(16)),
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		ValidFrom:    cert.NotBefore.UTC(),
		ValidUntil:   cert.NotAfter.UTC(),
	}
}

// Inspect = Parse + Validate + ExtractInfo. Ante error de parseo devuelve
// Info vacía y StatusInvalid.
func (i *Inspector) Inspect(ctx context.Context, raw string) (Info, Status, error) {
	cert, err := i.Parse(raw)
	if err != nil {
		return Info{}, StatusInvalid, err
	}
	return ExtractInfo(cert), i.Validate(ctx, cert), nil
}
