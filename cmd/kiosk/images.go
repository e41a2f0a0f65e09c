package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/spf13/cobra"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List the storybook pictures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tDESCRIPTION")
		for _, img := range domain.Catalog() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", img.ID, img.Title, img.Description)
		}
		return w.Flush()
	},
}
