package http

import (
	"context"
	"crypto/tls"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

// ServerConfig configura el listener.
type ServerConfig struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	// TLSCertFile/TLSKeyFile habilitan HTTPS. El certificado de cliente se pide
	// pero no se verifica contra una CA: lo evalúa el trust store.
	TLSCertFile string
	TLSKeyFile  string
}

// Server es el ciclo de vida del listener HTTP.
type Server struct {
	srv *stdhttp.Server
	cfg ServerConfig
}

func NewServer(cfg ServerConfig, handler stdhttp.Handler) *Server {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	srv := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	if cfg.TLSCertFile != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ClientAuth: tls.RequestClientCert,
		}
	}
	return &Server{srv: srv, cfg: cfg}
}

// Start bloquea hasta que el server se cierra. ErrServerClosed no es error.
func (s *Server) Start() error {
	log := logger.Named("http")
	var err error
	if s.cfg.TLSCertFile != "" {
		log.Info("listening (tls)", logger.String("addr", s.cfg.Addr))
		err = s.srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		log.Info("listening", logger.String("addr", s.cfg.Addr))
		err = s.srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown deja de aceptar conexiones y espera a las que están en curso.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Named("http").Info("shutting down")
	return s.srv.Shutdown(ctx)
}
