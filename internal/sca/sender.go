package sca

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/consentgate/internal/downstream"
	"github.com/dropDatabas3/consentgate/internal/email"
)

// Method es el canal de entrega del código.
type Method string

const (
	MethodSMS   Method = "SMS"
	MethodPush  Method = "PUSH"
	MethodEmail Method = "EMAIL"
)

// methodOrder es el orden de fallback cuando el preferido no está disponible.
var methodOrder = []Method{MethodSMS, MethodPush, MethodEmail}

// Delivery es lo que un Sender necesita para entregar un código.
type Delivery struct {
	Target       string
	Code         string
	ResourceType string
	ExpiresIn    time.Duration
}

// Sender entrega el código por un canal.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// NotifierSender entrega por SMS o push a través del servicio de notificaciones.
type NotifierSender struct {
	Channel  Method
	Notifier downstream.Notifier
}

func (s NotifierSender) Send(ctx context.Context, d Delivery) error {
	return s.Notifier.Notify(ctx, downstream.Notification{
		Channel: string(s.Channel),
		Target:  d.Target,
		Message: fmt.Sprintf("Your verification code is %s. It expires in %s.", d.Code, d.ExpiresIn),
	})
}

// EmailSender entrega por email (SMTP).
type EmailSender struct {
	Mailer email.Sender
}

func (s EmailSender) Send(_ context.Context, d Delivery) error {
	subject, html, text, err := email.RenderOTP(email.OTPVars{
		Code:      d.Code,
		ExpiresIn: d.ExpiresIn.String(),
		Purpose:   d.ResourceType,
	})
	if err != nil {
		return err
	}
	return s.Mailer.Send(d.Target, subject, html, text)
}
