package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"erca.gov.et/portal/internal/directory"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	var in directory.NewOfficial
	bootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first super-admin while the directory is empty",
		Long: `Creates the first super-admin. It refuses once any official exists.
Without --secret a one-time secret is generated and printed once; the
official must change it at first login.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.Directory.Bootstrap(cmd.Context(), in)
			if errors.Is(err, directory.ErrAlreadyBootstrapped) {
				return errors.New("directory already has officials; use the API to add more")
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created super-admin %s (%s)\n", created.Official.EmployeeCode, created.Official.ID)
			if created.GeneratedSecret != "" {
				fmt.Fprintf(out, "one-time secret: %s\n", created.GeneratedSecret)
			}
			return nil
		},
	}
	f := bootstrap.Flags()
	f.StringVar(&in.EmployeeCode, "employee-code", "", "employee code (required)")
	f.StringVar(&in.FullName, "name", "", "full name (required)")
	f.StringVar(&in.Email, "email", "", "email address (required)")
	f.StringVar(&in.Phone, "phone", "", "phone number")
	f.StringVar(&in.Department, "department", "", "department")
	f.StringVar(&in.Rank, "rank", "", "rank code from the catalog")
	f.StringVar(&in.OfficeLocation, "office", "", "office location")
	f.StringVar(&in.Secret, "secret", "", "initial secret; generated when empty")
	_ = bootstrap.MarkFlagRequired("employee-code")
	_ = bootstrap.MarkFlagRequired("name")
	_ = bootstrap.MarkFlagRequired("email")

	cmd.AddCommand(bootstrap)
	return cmd
}
