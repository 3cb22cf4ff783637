package logger

import (
	"time"

	"go.uber.org/zap"
)

// ---- HTTP ----

func RequestID(v string) zap.Field         { return zap.String("request_id", v) }
func Method(v string) zap.Field            { return zap.String("method", v) }
func Path(v string) zap.Field              { return zap.String("path", v) }
func Status(v int) zap.Field               { return zap.Int("status", v) }
func Bytes(v int) zap.Field                { return zap.Int("bytes", v) }
func DurationMs(v int64) zap.Field         { return zap.Int64("duration_ms", v) }
func Duration(v time.Duration) zap.Field   { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field          { return zap.String("client_ip", v) }
func UserAgent(v string) zap.Field         { return zap.String("user_agent", v) }

// ---- Negocio ----

// ConsentID crea un campo para el ID del consent.
func ConsentID(v string) zap.Field { return zap.String("consent_id", v) }

// ThirdPartyID crea un campo para el ID del TPP.
func ThirdPartyID(v string) zap.Field { return zap.String("tpp_id", v) }

// ResourceType crea un campo para el tipo de recurso accedido.
func ResourceType(v string) zap.Field { return zap.String("resource_type", v) }

// ChallengeID crea un campo para el ID de un challenge SCA.
func ChallengeID(v string) zap.Field { return zap.String("challenge_id", v) }

// Outcome crea un campo para el resultado auditado (SUCCESS, FORBIDDEN...).
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// Reason crea un campo para el motivo de una denegación.
func Reason(v string) zap.Field { return zap.String("reason", v) }

// Stage crea un campo para la etapa del pipeline del mediator.
func Stage(v string) zap.Field { return zap.String("stage", v) }

// Masked loguea un identificador sensible enmascarado (PSU, IBAN, teléfono).
func Masked(key, v string) zap.Field { return zap.String(key, Mask(v)) }

// ---- Sistema ----

func Component(v string) zap.Field     { return zap.String("component", v) }
func Op(v string) zap.Field            { return zap.String("op", v) }
func Layer(v string) zap.Field         { return zap.String("layer", v) }
func Err(err error) zap.Field          { return zap.Error(err) }
func Count(v int) zap.Field            { return zap.Int("count", v) }
func String(key, v string) zap.Field   { return zap.String(key, v) }
func Int(key string, v int) zap.Field  { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field  { return zap.Any(key, v) }

// Mask deja visibles los 2 primeros y 2 últimos caracteres.
func Mask(v string) string {
	r := []rune(v)
	switch {
	case len(r) == 0:
		return ""
	case len(r) <= 4:
		return "****"
	default:
		out := make([]rune, len(r))
		for i := range r {
			if i < 2 || i >= len(r)-2 {
				out[i] = r[i]
			} else {
				out[i] = '*'
			}
		}
		return string(out)
	}
}
