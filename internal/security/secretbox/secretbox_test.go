package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func newTestCodec(t *testing.T, policy DecryptPolicy) *Codec {
	t.Helper()
	c, err := New(Config{Enabled: true, MasterKey: testKey(1), DecryptPolicy: policy})
	require.NoError(t, err)
	return c
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t, FailClosed)

	for _, msg := range []string{"", "x", "hola mundo ✓ secreto", strings.Repeat("DE89370400440532013000", 40)} {
		ct, err := c.Encrypt(msg)
		require.NoError(t, err)
		pt, err := c.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, msg, pt)
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t, FailClosed)

	a, err := c.Encrypt("psu-4711")
	require.NoError(t, err)
	b, err := c.Encrypt("psu-4711")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	ra, _ := base64.StdEncoding.DecodeString(a)
	rb, _ := base64.StdEncoding.DecodeString(b)
	assert.NotEqual(t, ra[:nonceSizeGCM], rb[:nonceSizeGCM])
}

func TestEncrypt_EnvelopeLayout(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t, FailClosed)

	ct, err := c.Encrypt("abcd")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	// nonce + len(plaintext) + tag
	assert.Len(t, raw, nonceSizeGCM+4+tagSizeGCM)
}

func TestDecrypt_DetectsTamper_FailClosed(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t, FailClosed)

	ct, err := c.Encrypt("top secret")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[nonceSizeGCM] ^= 0x01
	corrupted := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(corrupted)
	require.ErrorIs(t, err, ErrDecrypt)
}

// Fail-open es la política heredada: un sobre inválido se devuelve tal cual.
func TestDecrypt_FailOpenReturnsInputUnchanged(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t, FailOpen)

	ct, err := c.Encrypt("top secret")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[len(raw)-1] ^= 0xff
	corrupted := base64.StdEncoding.EncodeToString(raw)

	got, err := c.Decrypt(corrupted)
	require.NoError(t, err)
	assert.Equal(t, corrupted, got)

	legacy, err := c.Decrypt("legacy-plaintext-psu")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plaintext-psu", legacy)
}

func TestDecrypt_ShortEnvelope(t *testing.T) {
	t.Parallel()
	c := newTestCodec(t, FailClosed)

	_, err := c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestDisabledCodecIsIdentity(t *testing.T) {
	t.Parallel()
	c, err := New(Config{Enabled: false})
	require.NoError(t, err)

	ct, err := c.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", ct)
	pt, err := c.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", pt)
	assert.False(t, Disabled().Enabled())
}

func TestFingerprint_DeterministicPerKey(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Enabled: true, MasterKey: testKey(7), Purpose: "audit"})
	require.NoError(t, err)
	b, err := New(Config{Enabled: true, MasterKey: testKey(8), Purpose: "audit"})
	require.NoError(t, err)

	fp := a.Fingerprint("cust-1")
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, a.Fingerprint("cust-1"))
	assert.NotEqual(t, fp, a.Fingerprint("cust-2"))
	assert.NotEqual(t, fp, b.Fingerprint("cust-1"))
	assert.Empty(t, a.Fingerprint(""))
	assert.Equal(t, "cust-1", Disabled().Fingerprint("cust-1"))
}

func TestPurposeKeysAreIndependent(t *testing.T) {
	t.Parallel()
	audit, err := New(Config{Enabled: true, MasterKey: testKey(7), Purpose: "audit", DecryptPolicy: FailClosed})
	require.NoError(t, err)
	consent, err := New(Config{Enabled: true, MasterKey: testKey(7), Purpose: "consent", DecryptPolicy: FailClosed})
	require.NoError(t, err)

	ct, err := audit.Encrypt("psu")
	require.NoError(t, err)
	_, err = consent.Decrypt(ct)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Enabled: true, MasterKey: ""})
	require.ErrorIs(t, err, ErrKeyInvalid)

	_, err = New(Config{Enabled: true, MasterKey: "too-short"})
	require.ErrorIs(t, err, ErrKeyInvalid)

	_, err = New(Config{Enabled: true, MasterKey: testKey(1), DecryptPolicy: "maybe"})
	require.Error(t, err)
}

func TestParseKey_Formats(t *testing.T) {
	t.Parallel()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(200 + i%50)
	}
	hexKey := strings.Repeat("ab", 32)

	for _, k := range []string{
		base64.StdEncoding.EncodeToString(raw),
		base64.RawStdEncoding.EncodeToString(raw),
		hexKey,
		"0123456789abcdef0123456789ABCDEF",
	} {
		b, err := ParseKey(k)
		require.NoError(t, err, k)
		assert.Len(t, b, 32)
	}
}
