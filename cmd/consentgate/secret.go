package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/consentgate/internal/app"
	"github.com/dropDatabas3/consentgate/internal/security/secretbox"
)

// secretCmd cifra o descifra valores con la master key configurada, por
// ejemplo para preparar datos legacy o inspeccionar un registro de auditoría.
func secretCmd() *cobra.Command {
	var purpose string
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Encrypt or decrypt field values with the configured master key",
	}
	cmd.PersistentFlags().StringVar(&purpose, "purpose", "consent", "clase de dato: consent o audit")

	codec := func() (*secretbox.Codec, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		consentCodec, auditCodec, err := app.Codecs(cfg)
		if err != nil {
			return nil, err
		}
		switch purpose {
		case "consent":
			return consentCodec, nil
		case "audit":
			return auditCodec, nil
		}
		return nil, fmt.Errorf("unknown purpose %q", purpose)
	}

	run := func(op func(*secretbox.Codec, string) (string, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := codec()
			if err != nil {
				return err
			}
			if !c.Enabled() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: encryption disabled, values pass through unchanged")
			}
			values := args
			if len(values) == 0 {
				if values, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			for _, v := range values {
				out, err := op(c, v)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt [value...]",
		Short: "Encrypt values (stdin if none given)",
		RunE:  run((*secretbox.Codec).Encrypt),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decrypt [envelope...]",
		Short: "Decrypt envelopes (stdin if none given)",
		RunE:  run((*secretbox.Codec).Decrypt),
	})
	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
