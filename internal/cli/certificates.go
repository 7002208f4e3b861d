package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/robcowart/certseal/internal/service"
)

func newMigrateCmd(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := cli.open()
			if err != nil {
				return err
			}
			defer e.Close()

			cli.Output("Database %s is up to date", e.cfg.Database.Type)
			return nil
		},
	}
}

func newIssueCmd(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:     "issue TRANSACTION_ID",
		Short:   "Issue the certificate for a completed transaction",
		Long:    "Issue the certificate for a completed transaction. Issuing twice prints the existing certificate.",
		Example: "certsealctl issue 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || txID <= 0 {
				return fmt.Errorf("invalid transaction id: %q", args[0])
			}

			e, err := cli.open()
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := service.RetryStore(cmd.Context(), service.DefaultRetryPolicy, func() (*service.IssueResult, error) {
				return e.svc.Certificates.Issue(cmd.Context(), txID)
			})
			if err != nil {
				return err
			}
			return cli.JSON(result)
		},
	}
}

func newVerifyCmd(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:     "verify TOKEN",
		Short:   "Verify a scanned certificate token",
		Long:    "Verify a scanned certificate token exactly as the public endpoint does and print the result.",
		Example: "certsealctl verify AQAAAB...",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := cli.open()
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.svc.Verification.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cli.JSON(result)
		},
	}
}

var statusShort = map[string]string{
	"revoke":  "Revoke a certificate permanently",
	"suspend": "Suspend a valid certificate",
}

func newStatusCmd(cli *CLI, action string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:     action + " CERTIFICATE_ID",
		Short:   statusShort[action],
		Example: fmt.Sprintf("certsealctl %s 3f1c... --reason 'payment disputed'", action),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := cli.open()
			if err != nil {
				return err
			}
			defer e.Close()

			change := e.svc.Certificates.Revoke
			if action == "suspend" {
				change = e.svc.Certificates.Suspend
			}

			status, err := change(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return cli.JSON(status)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the status change")
	return cmd
}

func newRotateCmd(cli *CLI) *cobra.Command {
	var kind, oldKey, newKey string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt stored documents or metadata under a new key",
		Long: `Re-encrypt every stored document or metadata blob from the old key to the new key.

Objects already readable with the new key are skipped, so an interrupted
rotation can be run again. Update document_key or data_key in the
configuration once the report shows no failures.`,
		Example: "certsealctl rotate --kind document --old-key \"$OLD\" --new-key \"$NEW\"",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if oldKey == "" || newKey == "" {
				return fmt.Errorf("both --old-key and --new-key are required")
			}
			if oldKey == newKey {
				return fmt.Errorf("the new key must differ from the old key")
			}

			e, err := cli.open()
			if err != nil {
				return err
			}
			defer e.Close()

			var report *service.RotationReport
			switch kind {
			case service.RotationDocuments:
				report, err = e.svc.Certificates.RotateDocuments(cmd.Context(), []byte(oldKey), []byte(newKey))
			case service.RotationMetadata:
				report, err = e.svc.Certificates.RotateMetadata(cmd.Context(), []byte(oldKey), []byte(newKey))
			default:
				return fmt.Errorf("unknown kind %q: use %s or %s", kind, service.RotationDocuments, service.RotationMetadata)
			}
			if err != nil {
				return err
			}

			if err := cli.JSON(report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d objects failed to rotate", report.Failed, report.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", service.RotationDocuments, "What to rotate (document or metadata)")
	cmd.Flags().StringVar(&oldKey, "old-key", "", "Key the objects are currently encrypted with")
	cmd.Flags().StringVar(&newKey, "new-key", "", "Key to re-encrypt the objects with")
	return cmd
}
