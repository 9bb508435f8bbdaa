package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func teamsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List configured teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.Close()

			teams, err := a.teams.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODE\tLEAD\tMEMBERS")
			for _, t := range teams {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Mode, t.Lead, strings.Join(t.Members, ", "))
			}
			return tw.Flush()
		},
	}
}
