// Package secretbox cifra campos individuales (strings) con AES-256-GCM.
//
// Formato del sobre persistido: base64(nonce(12) || ciphertext || tag(16)).
// La clave maestra se recibe desde afuera (config/env); este paquete no genera
// ni rota claves. Cada clase de dato usa una sub-clave derivada con HKDF.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

const (
	nonceSizeGCM      = 12 // 96 bits
	tagSizeGCM        = 16 // 128 bits
	requiredKeyLength = 32 // AES-256
)

// DecryptPolicy define qué hace Decrypt ante un sobre inválido.
type DecryptPolicy string

const (
	// FailOpen devuelve el string original sin error (datos legacy sin cifrar).
	FailOpen DecryptPolicy = "fail_open"
	// FailClosed devuelve ErrDecrypt.
	FailClosed DecryptPolicy = "fail_closed"
)

var (
	ErrKeyInvalid = errors.New("secretbox: invalid key")
	ErrDecrypt    = errors.New("secretbox: decrypt failed")
)

// Config configura un Codec.
type Config struct {
	// Enabled=false convierte Encrypt/Decrypt en la identidad.
	Enabled bool
	// MasterKey en base64, base64 raw, hex (64 chars) o 32 bytes crudos.
	MasterKey string
	// Purpose, si no es vacío, deriva una sub-clave HKDF para esa clase de dato.
	Purpose string
	// DecryptPolicy default: FailOpen.
	DecryptPolicy DecryptPolicy
}

// Codec cifra/descifra strings. Es seguro para uso concurrente.
type Codec struct {
	enabled bool
	purpose string
	policy  DecryptPolicy
	aead    cipher.AEAD
	index   []byte // clave HMAC de Fingerprint
}

// New construye un Codec a partir de la configuración.
func New(cfg Config) (*Codec, error) {
	policy := cfg.DecryptPolicy
	if policy == "" {
		policy = FailOpen
	}
	if policy != FailOpen && policy != FailClosed {
		return nil, fmt.Errorf("secretbox: unknown decrypt policy %q", policy)
	}
	if !cfg.Enabled {
		return &Codec{enabled: false, purpose: cfg.Purpose, policy: policy}, nil
	}

	key, err := ParseKey(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	if cfg.Purpose != "" {
		if key, err = DeriveKey(key, cfg.Purpose); err != nil {
			return nil, err
		}
	}
	return newWithKey(key, cfg.Purpose, policy)
}

// Disabled devuelve un Codec identidad.
func Disabled() *Codec {
	return &Codec{enabled: false, policy: FailOpen}
}

func newWithKey(key []byte, purpose string, policy DecryptPolicy) (*Codec, error) {
	if len(key) != requiredKeyLength {
		return nil, fmt.Errorf("%w: %d bytes (requiere %d)", ErrKeyInvalid, len(key), requiredKeyLength)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	index, err := DeriveKey(key, "index")
	if err != nil {
		return nil, err
	}
	return &Codec{enabled: true, purpose: purpose, policy: policy, aead: aead, index: index}, nil
}

// ParseKey acepta base64 (std o raw), hex de 64 chars o 32 bytes crudos.
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty", ErrKeyInvalid)
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if len(key) == 64 {
		if h, err := hex.DecodeString(key); err == nil {
			return h, nil
		}
	}
	if len(key) == requiredKeyLength {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("%w: se esperaban %d bytes", ErrKeyInvalid, requiredKeyLength)
}

// DeriveKey deriva una sub-clave de 32 bytes para un propósito (HKDF-SHA256).
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) != requiredKeyLength {
		return nil, fmt.Errorf("%w: master de %d bytes", ErrKeyInvalid, len(master))
	}
	r := hkdf.New(sha256.New, master, nil, []byte("consentgate/"+purpose))
	out := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// Enabled indica si el codec cifra realmente.
func (c *Codec) Enabled() bool { return c != nil && c.enabled }

// Policy devuelve la política de descifrado configurada.
func (c *Codec) Policy() DecryptPolicy { return c.policy }

// Encrypt cifra plainText y devuelve base64(nonce||ciphertext||tag).
func (c *Codec) Encrypt(plainText string) (string, error) {
	if !c.Enabled() {
		return plainText, nil
	}
	nonce := make([]byte, nonceSizeGCM, nonceSizeGCM+len(plainText)+tagSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	// Seal agrega ciphertext||tag a continuación del nonce.
	sealed := c.aead.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Fingerprint devuelve un HMAC-SHA256 (hex) determinístico de s, apto como
// clave de búsqueda de un valor que se guarda cifrado. Deshabilitado es la
// identidad; el string vacío se conserva.
func (c *Codec) Fingerprint(s string) string {
	if !c.Enabled() || s == "" {
		return s
	}
	mac := hmac.New(sha256.New, c.index)
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))
}

// Decrypt descifra un sobre producido por Encrypt.
//
// Con FailOpen cualquier falla criptográfica o de formato devuelve el input sin
// cambios (y se loguea); con FailClosed devuelve ErrDecrypt.
func (c *Codec) Decrypt(envelope string) (string, error) {
	if !c.Enabled() || envelope == "" {
		return envelope, nil
	}
	pt, err := c.open(envelope)
	if err == nil {
		return pt, nil
	}

	metrics.CodecDecryptFailures.WithLabelValues(c.purposeLabel(), string(c.policy)).Inc()
	if c.policy == FailClosed {
		return "", err
	}
	logger.Named("secretbox").Warn("decrypt failed, returning stored value (fail-open)",
		logger.Component(c.purposeLabel()),
		logger.Err(err),
	)
	return envelope, nil
}

func (c *Codec) open(envelope string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: decode envelope: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSizeGCM+tagSizeGCM {
		return "", fmt.Errorf("%w: envelope too short (%d bytes)", ErrDecrypt, len(raw))
	}
	nonce, ct := raw[:nonceSizeGCM], raw[nonceSizeGCM:]
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gcm auth: %v", ErrDecrypt, err)
	}
	return string(pt), nil
}

func (c *Codec) purposeLabel() string {
	if c.purpose == "" {
		return "default"
	}
	return c.purpose
}
