package email

import (
	"bytes"
	"errors"
	"testing"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderOTP_EscapesHTML(t *testing.T) {
	subject, html, text, err := RenderOTP(OTPVars{Code: "123456", ExpiresIn: "5m0s", Purpose: "<payment>"})
	require.NoError(t, err)
	assert.NotEmpty(t, subject)
	assert.Contains(t, html, "123456")
	assert.Contains(t, html, "&lt;payment&gt;")
	assert.Contains(t, text, "<payment>")
}

func TestSMTPSender_BuildsMultipartMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.local", Port: 2525, From: "noreply@bank.test", TLSMode: "ssl"})

	var sent bytes.Buffer
	var dialer *mail.Dialer
	s.dial = func(d *mail.Dialer, m *mail.Message) error {
		dialer = d
		_, err := m.WriteTo(&sent)
		return err
	}
	require.NoError(t, s.Send("psu@bank.test", "Code", "<b>1</b>", "1"))

	assert.True(t, dialer.SSL)
	assert.Equal(t, "smtp.local", dialer.Host)
	raw := sent.String()
	assert.Contains(t, raw, "To: psu@bank.test")
	assert.Contains(t, raw, "multipart/alternative")
}

func TestSMTPSender_WrapsDialError(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.local"})
	boom := errors.New("connection refused")
	s.dial = func(*mail.Dialer, *mail.Message) error { return boom }
	err := s.Send("a@b.c", "s", "", "t")
	require.ErrorIs(t, err, boom)
}
