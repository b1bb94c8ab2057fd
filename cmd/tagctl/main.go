// Command tagctl is the operator tool for tag provisioning and audit
// exports. It talks to the same Postgres database as the server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	ledgerservice "lifetag/internal/ledger/service"
	ledgerstore "lifetag/internal/ledger/store"
	"lifetag/internal/platform/config"
	"lifetag/internal/platform/logger"
	"lifetag/internal/platform/postgres"
	profileservice "lifetag/internal/profile/service"
	profilestore "lifetag/internal/profile/store"
	registryservice "lifetag/internal/registry/service"
	registrystore "lifetag/internal/registry/store"
)

// env holds the services a command works against.
type env struct {
	registry *registryservice.Service
	ledger   *ledgerservice.Service
	close    func() error
}

type opener func(ctx context.Context, cfg config.Config, log *slog.Logger) (*env, error)

func main() {
	cfg := config.FromEnv()
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel)
	if err := newRootCmd(cfg, openPostgres, log).Execute(); err != nil {
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context, cfg config.Config, log *slog.Logger) (*env, error) {
	if cfg.Postgres.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return newEnv(db, log), nil
}

func newEnv(db *sql.DB, log *slog.Logger) *env {
	profiles := profileservice.New(profilestore.NewPostgres(db), profileservice.WithLogger(log))
	return &env{
		registry: registryservice.New(registrystore.NewPostgres(db), profiles, registryservice.WithLogger(log)),
		ledger:   ledgerservice.New(ledgerstore.NewPostgres(db), ledgerservice.WithLogger(log)),
		close:    db.Close,
	}
}

func newRootCmd(cfg config.Config, open opener, log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "tagctl",
		Short:        "Provision emergency tags and export audit records",
		SilenceUsage: true,
	}

	withEnv := func(run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer e.close()
			return run(cmd, e, args)
		}
	}

	root.AddCommand(registerCmd(withEnv))
	root.AddCommand(reregisterCmd(withEnv))
	root.AddCommand(setStatusCmd(withEnv))
	root.AddCommand(ledgerCmd(withEnv, cfg))
	root.AddCommand(tokenCmd(cfg))
	return root
}

type envRunner func(run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
