package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"erca.gov.et/portal/internal/auth"
)

func newRanksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ranks",
		Short: "Manage the rank catalog",
	}

	var file string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Upsert the rank catalog (built-in unless --file is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ranks, err := auth.DefaultRanks()
			if file != "" {
				data, rerr := os.ReadFile(file)
				if rerr != nil {
					return rerr
				}
				ranks, err = auth.ParseRanks(data)
			}
			if err != nil {
				return err
			}
			st, err := openPG(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.UpsertRanks(cmd.Context(), ranks); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d ranks\n", len(ranks))
			return nil
		},
	}
	seed.Flags().StringVar(&file, "file", "", "YAML rank catalog to load instead of the built-in one")

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the rank catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openPG(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			ranks, err := st.ListRanks(cmd.Context())
			if err != nil {
				return err
			}
			return printRanks(cmd, ranks)
		},
	}

	cmd.AddCommand(seed, list)
	return cmd
}

func printRanks(cmd *cobra.Command, ranks []auth.Rank) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tCODE\tTITLE")
	for _, r := range ranks {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Level, r.Code, r.Title)
	}
	return tw.Flush()
}
