package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/consentgate/internal/app"
	httpx "github.com/dropDatabas3/consentgate/internal/http"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Named("main")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := app.Build(ctx, cfg, app.Options{Version: version})
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			defer c.Close()

			if migrate {
				res, err := c.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				log.Info("migrations applied",
					logger.Int("applied", len(res.Applied)),
					logger.Int("skipped", len(res.Skipped)),
				)
			}

			srv := httpx.NewServer(httpx.ServerConfig{
				Addr:         cfg.Server.Addr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
				TLSCertFile:  cfg.Server.TLS.CertFile,
				TLSKeyFile:   cfg.Server.TLS.KeyFile,
			}, c.Handler)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
				log.Info("signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("graceful shutdown failed", logger.Err(err))
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "aplicar migraciones antes de escuchar")
	return cmd
}
