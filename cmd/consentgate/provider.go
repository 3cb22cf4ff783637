package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/consentgate/internal/app"
	"github.com/dropDatabas3/consentgate/internal/domain/repository"
	"github.com/dropDatabas3/consentgate/internal/trust"
)

func providerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage registered third-party providers",
	}
	cmd.AddCommand(providerRegisterCmd())
	cmd.AddCommand(providerStatusCmd())
	cmd.AddCommand(providerListCmd())
	return cmd
}

// withContainer arma el gateway para un comando administrativo. Con storage
// en memoria los cambios se pierden al salir.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != "postgres" {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: storage.driver is not postgres, changes will not persist")
	}
	ctx := cmd.Context()
	c, err := app.Build(ctx, cfg, app.Options{Version: version})
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func providerRegisterCmd() *cobra.Command {
	var (
		name, regNumber, redirect, typ, certFile string
		roles                                    []string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a provider and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := trust.RegisterInput{
				Name:               name,
				RegistrationNumber: regNumber,
				RedirectURI:        redirect,
				Type:               repository.Role(strings.ToUpper(typ)),
			}
			for _, r := range roles {
				in.Roles = append(in.Roles, repository.Role(strings.ToUpper(strings.TrimSpace(r))))
			}
			if certFile != "" {
				raw, err := os.ReadFile(certFile)
				if err != nil {
					return fmt.Errorf("read certificate: %w", err)
				}
				in.Certificate = string(raw)
			}
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				p, apiKey, err := c.Trust.Register(ctx, in)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:      %s\n", p.ID)
				fmt.Fprintf(out, "status:  %s\n", p.Status)
				fmt.Fprintf(out, "roles:   %v\n", p.Roles)
				fmt.Fprintf(out, "api key: %s\n", apiKey)
				fmt.Fprintln(cmd.ErrOrStderr(), "la api key no se puede recuperar después")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "nombre del TPP")
	cmd.Flags().StringVar(&regNumber, "registration-number", "", "número de registro ante el regulador")
	cmd.Flags().StringVar(&redirect, "redirect-uri", "", "redirect URI")
	cmd.Flags().StringVar(&typ, "type", "AISP", "tipo: AISP, PISP, CBPII o ASPSP")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles (default: el tipo)")
	cmd.Flags().StringVar(&certFile, "cert", "", "certificado QWAC en PEM")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("registration-number")
	return cmd
}

func providerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <ACTIVE|SUSPENDED|REVOKED>",
		Short: "Change a provider status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := repository.ProviderStatus(strings.ToUpper(args[1]))
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				p, err := c.Trust.SetStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", p.ID, p.Status)
				return nil
			})
		},
	}
}

func providerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				ps, err := c.Trust.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tCERT")
				for _, p := range ps {
					serial := "-"
					if p.Certificate != nil {
						serial = p.Certificate.SerialNumber
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Type, p.Status, serial)
				}
				return w.Flush()
			})
		},
	}
}
