package middlewares

import "context"

type ctxKey int

const (
	ctxRequestIDKey ctxKey = iota
	ctxClientIPKey
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID devuelve el request id inyectado por WithRequestID.
func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return s
	}
	return ""
}

func setClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxClientIPKey, ip)
}

// GetClientIP devuelve la IP resuelta por WithClientIP.
func GetClientIP(ctx context.Context) string {
	if s, ok := ctx.Value(ctxClientIPKey).(string); ok {
		return s
	}
	return ""
}
