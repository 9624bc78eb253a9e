package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-frob-oauth/internal/config"
	"github.com/giantswarm/mcp-frob-oauth/legacy"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/server"
)

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of a client secret for the clients section",
		Long: `Hashes a confidential client's secret for use as secret_hash in the
configuration file. The secret is read from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read secret from stdin: %w", err)
				}
				secret = line
			}
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}

			hash, err := server.HashClientSecret(secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func newGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Print a random base64 key for storage.encryption_key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), security.KeyToBase64(key))
			return err
		},
	}
}

func newCheckTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-token",
		Short: "Check a legacy auth token against the task service",
		Long: `Reads a legacy auth token from stdin and asks the task service which user
and permission level it belongs to. Uses the legacy section of the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			token, err := readLine(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read token from stdin: %w", err)
			}
			return checkLegacyToken(cmd.Context(), cfg.LegacyClientConfig(), token, cmd.OutOrStdout())
		},
	}
}

func checkLegacyToken(ctx context.Context, cfg *legacy.Config, token string, out io.Writer) error {
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	client, err := legacy.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create legacy API client: %w", err)
	}
	auth, err := client.CheckToken(ctx, token)
	if err != nil {
		return fmt.Errorf("token %s rejected: %w", security.Redact(token), err)
	}
	_, err = fmt.Fprintf(out, "user_id=%s username=%s perms=%s\n", auth.User.ID, auth.User.Username, auth.Perms)
	return err
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
