package errors

import (
	"fmt"
	"maps"
	"net/http"
)

// FieldError describe un campo inválido del request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError es el error estándar de la capa HTTP. Code pertenece a la
// taxonomía cerrada de abajo.
type AppError struct {
	Code       string
	Message    string
	Detail     string
	HTTPStatus int
	Fields     []FieldError
	// Links extra además de self (p.ej. startAuthorisation).
	Links map[string]string
	// Err es la causa; sólo se loguea, nunca se serializa.
	Err error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// FromError convierte cualquier error en AppError. Lo desconocido se degrada
// a INTERNAL_SERVER_ERROR conservando la causa.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

// WithDetail devuelve una COPIA con detail.
func (e *AppError) WithDetail(detail string) *AppError {
	c := *e
	c.Detail = detail
	return &c
}

// WithCause devuelve una COPIA con la causa.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

// WithField devuelve una COPIA con un FieldError más.
func (e *AppError) WithField(field, message string) *AppError {
	c := *e
	c.Fields = append(append([]FieldError(nil), e.Fields...), FieldError{Field: field, Message: message})
	return &c
}

// WithLink devuelve una COPIA con un link adicional.
func (e *AppError) WithLink(rel, href string) *AppError {
	c := *e
	c.Links = maps.Clone(e.Links)
	if c.Links == nil {
		c.Links = map[string]string{}
	}
	c.Links[rel] = href
	return &c
}

// =================================================================================
// TAXONOMÍA
// =================================================================================

const (
	CodeFormatError           = "FORMAT_ERROR"
	CodeResourceUnknown       = "RESOURCE_UNKNOWN"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeConsentInvalid        = "CONSENT_INVALID"
	CodePSUCredentialsInvalid = "PSU_CREDENTIALS_INVALID"
	CodeResourceBlocked       = "RESOURCE_BLOCKED"
	CodeServiceBlocked        = "SERVICE_BLOCKED"
	CodeInternalServerError   = "INTERNAL_SERVER_ERROR"
)

var (
	ErrFormat = &AppError{
		Code:       CodeFormatError,
		Message:    "The request is missing required headers or contains malformed input.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrResourceUnknown = &AppError{
		Code:       CodeResourceUnknown,
		Message:    "The addressed resource is unknown.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrUnauthorized = &AppError{
		Code:       CodeUnauthorized,
		Message:    "The third party credential is missing or invalid.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrConsentInvalid = &AppError{
		Code:       CodeConsentInvalid,
		Message:    "The consent does not authorize this request.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrPSUCredentialsInvalid = &AppError{
		Code:       CodePSUCredentialsInvalid,
		Message:    "The customer authentication is missing or invalid.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrResourceBlocked = &AppError{
		Code:       CodeResourceBlocked,
		Message:    "The third party is not allowed to access this resource.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrServiceBlocked = &AppError{
		Code:       CodeServiceBlocked,
		Message:    "Too many requests.",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternal = &AppError{
		Code:       CodeInternalServerError,
		Message:    "An internal error occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
