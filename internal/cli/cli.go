// Package cli implements certsealctl, the operator command line for key
// management, migrations, and offline certificate operations.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/document"
	"github.com/robcowart/certseal/internal/logging"
	"github.com/robcowart/certseal/internal/metrics"
	"github.com/robcowart/certseal/internal/service"
)

// CLI holds the streams commands read from and write to
type CLI struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	configFile string
	logLevel   string
}

// Output writes a line to Stdout
func (c *CLI) Output(format string, args ...any) {
	fmt.Fprintf(c.Stdout, format+"\n", args...)
}

// JSON writes v to Stdout as indented JSON
func (c *CLI) JSON(v any) error {
	enc := json.NewEncoder(c.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Run executes certsealctl with args, which exclude the binary name
func Run(ctx context.Context, args ...string) error {
	cli := &CLI{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	return cli.Run(ctx, args...)
}

// Run executes certsealctl on this CLI's streams
func (c *CLI) Run(ctx context.Context, args ...string) error {
	cmd := NewRootCmd(c)
	cmd.SetArgs(args)
	cmd.SetIn(c.Stdin)
	cmd.SetOut(c.Stdout)
	cmd.SetErr(c.Stderr)
	return cmd.ExecuteContext(ctx)
}

// NewRootCmd builds the command tree
func NewRootCmd(cli *CLI) *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:               "certsealctl",
		Short:             "Manage certseal keys, migrations and certificates",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		SilenceErrors:     true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cli.configFile, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "warn", "Log level for diagnostics written to stderr")

	rootCmd.AddCommand(
		newGenkeyCmd(cli),
		newHashPasswordCmd(cli),
		newTokenCmd(cli),
		newMigrateCmd(cli),
		newIssueCmd(cli),
		newVerifyCmd(cli),
		newStatusCmd(cli, "revoke"),
		newStatusCmd(cli, "suspend"),
		newRotateCmd(cli),
	)

	return rootCmd
}

// env is everything a command needs to act on the configured deployment
type env struct {
	cfg    *config.Config
	db     *database.Database
	svc    *service.Services
	logger *zap.Logger
}

func (e *env) Close() {
	_ = e.db.Close()
	_ = e.logger.Sync()
}

func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configFile, nil)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = c.logLevel
	cfg.Logging.Output = "stderr"
	return cfg, nil
}

// open loads configuration and connects to the database. Migrations are
// applied so offline commands work against a fresh deployment.
func (c *CLI) open() (*env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := document.NewStore(cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	svc, err := service.NewServices(cfg, db, store, metrics.New(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &env{cfg: cfg, db: db, svc: svc, logger: logger}, nil
}
