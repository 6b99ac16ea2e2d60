package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"erca.gov.et/portal/internal/app"
	"erca.gov.et/portal/internal/config"
	"erca.gov.et/portal/internal/obs"
	"erca.gov.et/portal/internal/store/pg"
)

var (
	flagDSN      string
	flagLogLevel string
)

// NewRootCmd creates the root command of portalctl.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "portalctl",
		Short: "Operations CLI for the ERCA officials portal",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			obs.SetOutput(cmd.ErrOrStderr())
			obs.SetLevel(flagLogLevel)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagDSN, "dsn", "", "PostgreSQL DSN (overrides PORTAL_PG_DSN)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newMigrateCmd(),
		newRanksCmd(),
		newAdminCmd(),
		newSessionsCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return config.Config{}, err
	}
	if flagDSN != "" {
		cfg.PGDSN = flagDSN
	}
	return cfg, nil
}

// openPG opens the database without touching the schema, so it works before
// the first migration.
func openPG(cmd *cobra.Command) (*pg.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.PGDSN == "" {
		return nil, fmt.Errorf("missing DSN: provide --dsn or PORTAL_PG_DSN")
	}
	st, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return st, nil
}

func buildApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Build(cmd.Context(), cfg)
}
