package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robcowart/certseal/internal/auth"
	"github.com/robcowart/certseal/internal/crypto"
)

func newGenkeyCmd(cli *CLI) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Print freshly generated secrets",
		Long: `Print freshly generated secrets, one per line.

Each of qr_key, data_key, document_key, signing_key and the JWT secret
must be a different value.`,
		Example: "certsealctl genkey --count 5",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			for i := 0; i < count; i++ {
				secret, err := crypto.GenerateSecret()
				if err != nil {
					return err
				}
				cli.Output("%s", secret)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of secrets to generate")
	return cmd
}

func newHashPasswordCmd(cli *CLI) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash an operator password read from stdin",
		Long: `Hash an operator password read from the first line of stdin.

The result goes in the password_hash field of an entry under operators.`,
		Example: "echo 'correct-horse-42' | certsealctl hash-password --username alice",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cli.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password on stdin")
			}
			password := strings.TrimRight(line, "\r\n")

			if err := auth.ValidatePasswordStrength(username, password); err != nil {
				return err
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			cli.Output("%s", hash)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Operator the password belongs to")
	return cmd
}

func newTokenCmd(cli *CLI) *cobra.Command {
	var username, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator API token",
		Long: `Mint an operator API token signed with the configured JWT secret.

Use this for automation or when no operators are configured.`,
		Example: "certsealctl token --username deploy-bot --role operator",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != auth.RoleOperator && role != auth.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", auth.RoleOperator, auth.RoleAdmin)
			}

			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}
			authn, err := auth.NewAuthenticator(nil, cfg.JWT)
			if err != nil {
				return err
			}
			session, err := authn.Issue(username, role)
			if err != nil {
				return err
			}
			cli.Output("%s", session.Token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Name recorded as the token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "Role granted by the token (operator or admin)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
