package definition

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/crn-cloud/crn/pkg/client"
	"github.com/spf13/cobra"
)

var listServer string

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List registered analysis definitions",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.ValidateServer(listServer); err != nil {
			return err
		}

		crn := client.Client(strings.TrimSuffix(listServer, "/"))
		defs, err := crn.ListDefinitions()
		if err != nil {
			return err
		}

		names := make([]string, 0, len(defs))
		for name := range defs {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tREVISION\tREF\tLEVELS")
		for _, name := range names {
			revisions := make([]int, 0, len(defs[name]))
			for revision := range defs[name] {
				revisions = append(revisions, revision)
			}
			sort.Ints(revisions)

			for _, revision := range revisions {
				described := defs[name][revision]
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					name,
					revision,
					described.Ref,
					strings.Join(described.AnalysisLevels, ","),
				)
			}
		}

		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listServer, "server", "http://localhost:8080", "crn server base URL")
	Cmd.AddCommand(listCmd)
}
