package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/pkg/core"
)

// NewPlanCmd creates the plan command.
func NewPlanCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "plan <query-id>",
		Short: "Show how a query would execute without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			q, ok := cc.Queries[args[0]]
			if !ok {
				return &core.ValidationError{Msg: fmt.Sprintf("unknown query %q", args[0])}
			}

			plan, err := cc.Engine.Plan(q, cc.Queries, core.ExecOptions{Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Query: %s\nPlan:  %s\n", q.ID, plan.PlanKind())
			switch p := plan.(type) {
			case core.FoldedPlan:
				fmt.Fprintf(out, "SQL:    %s\nParams: %v\n", p.SQL, p.Params)
			case core.HybridPlan:
				fmt.Fprintf(out, "SQL:    %s\nParams: %v\n", p.SQL, p.Params)
				fmt.Fprintf(out, "Local steps (%d):\n", len(p.Remaining))
				for _, step := range p.Remaining {
					fmt.Fprintf(out, "  - %s (%s)\n", step.ID, step.Op.OpKind())
				}
				for _, d := range p.Diagnostics {
					fmt.Fprintf(out, "Firewall: %s at %s phase during %s\n", d.Action, d.Phase, d.Operation)
				}
			case core.LocalPlan:
				fmt.Fprintf(out, "All %d steps run locally\n", len(q.Steps))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "plan with a row limit applied")
	return cmd
}
