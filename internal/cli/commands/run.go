package commands

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		limit       int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "run [query-id...]",
		Short: "Execute queries and print their result tables",
		Long: `Execute the named queries, or every query in the project when none are
named. Independent queries run concurrently; each query's own execution is
sequential.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ids, err := selectQueries(cc, args)
			if err != nil {
				return err
			}

			start := time.Now()
			results := make(map[string]*core.DataTable, len(ids))
			var mu sync.Mutex

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			for _, id := range ids {
				q := cc.Queries[id]
				g.Go(func() error {
					t, err := cc.Engine.ExecuteQuery(ctx, q, cc.Queries, core.ExecOptions{Limit: limit})
					if err != nil {
						return fmt.Errorf("query %s: %w", q.ID, err)
					}
					mu.Lock()
					results[q.ID] = t
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, id := range ids {
				renderTable(cmd, cc.Queries[id], results[id])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed %d queries in %s\n",
				len(ids), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "cap result rows per query (0 = unlimited)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum queries executing at once")
	return cmd
}

// selectQueries resolves the requested query IDs, defaulting to every loaded
// query in sorted order.
func selectQueries(cc *CommandContext, args []string) ([]string, error) {
	if len(args) == 0 {
		ids := make([]string, 0, len(cc.Queries))
		for id := range cc.Queries {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	}
	for _, id := range args {
		if _, ok := cc.Queries[id]; !ok {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("unknown query %q", id)}
		}
	}
	return args, nil
}

func renderTable(cmd *cobra.Command, q *core.Query, t *core.DataTable) {
	name := q.Name
	if name == "" {
		name = q.ID
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n", name, len(t.Rows))

	w := table.NewWriter()
	w.SetOutputMirror(cmd.OutOrStdout())
	w.SetStyle(table.StyleLight)

	header := make(table.Row, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	w.AppendHeader(header)

	for _, row := range t.Rows {
		out := make(table.Row, len(row))
		for i, cell := range row {
			if scalar.IsNull(cell) {
				out[i] = "NULL"
			} else {
				out[i] = scalar.CanonicalString(cell)
			}
		}
		w.AppendRow(out)
	}
	w.Render()
	fmt.Fprintln(cmd.OutOrStdout())
}
