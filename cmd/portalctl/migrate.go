package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"erca.gov.et/portal/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(m *migrate.Manager) error {
					applied, err := m.Up(cmd.Context())
					for _, name := range applied {
						fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
					}
					if err != nil {
						return err
					}
					if len(applied) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(m *migrate.Manager) error {
					name, err := m.Down(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(m *migrate.Manager) error {
					list, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
					for _, mg := range list {
						at := "pending"
						if mg.Applied {
							at = mg.AppliedAt.UTC().Format(time.RFC3339)
						}
						fmt.Fprintf(tw, "%d\t%s\t%s\n", mg.Version, mg.Name, at)
					}
					return tw.Flush()
				})
			},
		},
	)
	return cmd
}

func withManager(cmd *cobra.Command, fn func(*migrate.Manager) error) error {
	st, err := openPG(cmd)
	if err != nil {
		return err
	}
	defer st.Close()
	m, err := migrate.NewManager(st.DB())
	if err != nil {
		return err
	}
	return fn(m)
}
