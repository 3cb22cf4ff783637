package email

import (
	"bytes"
	htmltpl "html/template"
	texttpl "text/template"
)

// OTPVars son las variables del email de código SCA.
type OTPVars struct {
	Code      string
	ExpiresIn string
	Purpose   string
}

const otpSubject = "Your verification code"

var (
	otpHTML = htmltpl.Must(htmltpl.New("otp_html").Parse(
		`<p>Your verification code is <strong>{{.Code}}</strong>.</p>` +
			`<p>It was requested to authorise: {{.Purpose}}. It expires in {{.ExpiresIn}}.</p>` +
			`<p>If you did not request it, ignore this message.</p>`))
	otpText = texttpl.Must(texttpl.New("otp_text").Parse(
		"Your verification code is {{.Code}}.\n" +
			"It was requested to authorise: {{.Purpose}}. It expires in {{.ExpiresIn}}.\n" +
			"If you did not request it, ignore this message.\n"))
)

// RenderOTP devuelve subject, html y texto del email de código SCA.
func RenderOTP(v OTPVars) (subject, html, text string, err error) {
	var hb, tb bytes.Buffer
	if err = otpHTML.Execute(&hb, v); err != nil {
		return "", "", "", err
	}
	if err = otpText.Execute(&tb, v); err != nil {
		return "", "", "", err
	}
	return otpSubject, hb.String(), tb.String(), nil
}
