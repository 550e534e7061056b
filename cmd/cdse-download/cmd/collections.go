package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go-cdse-download/internal/models"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List the known collection aliases",
	Run: func(cmd *cobra.Command, args []string) {
		aliases := make([]string, 0, len(models.Collections))
		for alias := range models.Collections {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ALIAS\tCOLLECTION")
		for _, alias := range aliases {
			fmt.Fprintf(w, "%s\t%s\n", alias, models.Collections[alias])
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
}
