// Command consentgate es el gateway de acceso para terceros (TPP) sobre las
// APIs de cuentas, pagos y confirmación de fondos.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/consentgate/internal/config"
	"github.com/dropDatabas3/consentgate/internal/observability/logger"
)

var (
	version = "dev"

	configPath string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "consentgate",
		Short:         "Consent and access-control gateway for third-party providers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "ruta a config.yaml (fallback: $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "archivo .env opcional")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(providerCmd())
	rootCmd.AddCommand(secretCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig carga .env (si existe), la config y deja el logger listo.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "consentgate",
		Version:     version,
	})
	return cfg, nil
}
