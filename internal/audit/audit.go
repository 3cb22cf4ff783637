// Package audit registra cada intento de acceso gateado en el access log
// append-only, con los identificadores del PSU y el detalle de error cifrados.
// El id de cliente se guarda cifrado y, para poder filtrar, como huella HMAC.
//
// Record nunca bloquea ni falla el request: la escritura corre en una
// goroutine con contexto desacoplado y sus errores van a logs y métricas.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/metrics"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
	"github.com/dropDatabas3/consentgate/internal/security/secretbox"
)

// Entry es un intento de acceso, en claro.
type Entry struct {
	ID           string                  `json:"id"`
	ConsentID    string                  `json:"consentId,omitempty"`
	CustomerID   string                  `json:"customerId,omitempty"`
	ThirdPartyID string                  `json:"thirdPartyId,omitempty"`
	AccessKind   repository.AccessKind   `json:"accessType"`
	ResourceType repository.ResourceType `json:"resourceType"`
	ResourceID   string                  `json:"resourceId,omitempty"`
	ClientIP     string                  `json:"ipAddress,omitempty"`
	UserAgent    string                  `json:"userAgent,omitempty"`
	Outcome      repository.Outcome      `json:"status"`
	ErrorMessage string                  `json:"errorMessage,omitempty"`
	RequestID    string                  `json:"requestId,omitempty"`
	TPPRequestID string                  `json:"tppRequestId,omitempty"`
	PSUID        string                  `json:"psuId,omitempty"`
	PSUIPAddress string                  `json:"psuIpAddress,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
}

// Options configura el Logger.
type Options struct {
	// WriteTimeout de cada escritura asíncrona. Default 5s.
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Logger escribe y consulta el access log.
type Logger struct {
	repo    repository.AccessLogRepository
	codec   *secretbox.Codec
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// New crea un Logger. codec nil equivale a secretbox.Disabled().
func New(repo repository.AccessLogRepository, codec *secretbox.Codec, opts Options) *Logger {
	if codec == nil {
		codec = secretbox.Disabled()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Logger{repo: repo, codec: codec, timeout: opts.WriteTimeout, now: opts.Now}
}

// Record emite la escritura sin esperarla. Los errores no se devuelven.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	log := logger.From(ctx)
	wctx := context.WithoutCancel(ctx)

	l.wg.Add(1)
	metrics.AuditWritesInflight.Inc()
	go func() {
		defer l.wg.Done()
		defer metrics.AuditWritesInflight.Dec()

		ctx, cancel := context.WithTimeout(wctx, l.timeout)
		defer cancel()
		if err := l.Write(ctx, e); err != nil {
			metrics.AuditWriteFailures.Inc()
			log.Error("audit write failed",
				logger.ConsentID(e.ConsentID),
				logger.ThirdPartyID(e.ThirdPartyID),
				logger.Outcome(string(e.Outcome)),
				logger.Err(err),
			)
		}
	}()
}

// Write cifra los campos sensibles y persiste la entrada.
func (l *Logger) Write(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	row := repository.AccessLogEntry{
		ID:           e.ID,
		ConsentID:    e.ConsentID,
		CustomerID:   l.codec.Fingerprint(e.CustomerID),
		ThirdPartyID: e.ThirdPartyID,
		AccessKind:   e.AccessKind,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		ClientIP:     e.ClientIP,
		UserAgent:    e.UserAgent,
		Status:       e.Outcome,
		RequestID:    e.RequestID,
		CreatedAt:    e.CreatedAt,
	}
	var err error
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&row.CustomerIDEnc, e.CustomerID},
		{&row.ErrorMessageEnc, e.ErrorMessage},
		{&row.TPPRequestIDEnc, e.TPPRequestID},
		{&row.PSUIDEnc, e.PSUID},
		{&row.PSUIPAddressEnc, e.PSUIPAddress},
	} {
		if *f.dst, err = l.codec.Encrypt(f.src); err != nil {
			return err
		}
	}
	return l.repo.Append(ctx, row)
}

// Flush espera las escrituras en curso o hasta que ctx termine.
func (l *Logger) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
