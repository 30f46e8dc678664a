// ABOUTME: Library management commands.
// ABOUTME: Creates and lists the libraries source plugins import into.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newLibrariesCmd(opts *rootOptions) *cobra.Command {
	var user string

	librariesCmd := &cobra.Command{
		Use:   "libraries",
		Short: "Manage user libraries",
	}
	librariesCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Owner of the libraries")
	librariesCmd.MarkPersistentFlagRequired("user")

	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSQL(); err != nil {
					return err
				}
				lib, err := a.sql.CreateLibrary(ctx, user, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), lib.ID)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireSQL(); err != nil {
					return err
				}
				libs, err := a.sql.ListLibraries(ctx, user)
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"ID", "Name", "Created"})
				for _, l := range libs {
					table.Append([]string{l.ID.String(), l.Name, l.CreatedAt.Local().Format(time.DateTime)})
				}
				table.Render()
				return nil
			})
		},
	}

	librariesCmd.AddCommand(createCmd, listCmd)
	return librariesCmd
}
