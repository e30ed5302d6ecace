package commands

import (
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the queries defined in the project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ids := make([]string, 0, len(cc.Queries))
			for id := range cc.Queries {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			w := table.NewWriter()
			w.SetOutputMirror(cmd.OutOrStdout())
			w.SetStyle(table.StyleLight)
			w.AppendHeader(table.Row{"ID", "Name", "Source", "Steps"})
			for _, id := range ids {
				q := cc.Queries[id]
				w.AppendRow(table.Row{q.ID, q.Name, string(q.Source.Type), len(q.Steps)})
			}
			w.Render()
			return nil
		},
	}
}
