package core

// FoldPlan is the folding compiler's output: how much of a query's step list
// could be pushed down into native SQL.
type FoldPlan interface {
	// PlanKind returns "local", "folded" or "hybrid".
	PlanKind() string

	foldPlan()
}

// LocalPlan means nothing folds: materialize the source and run every step
// locally.
type LocalPlan struct{}

// FoldedPlan means the entire pipeline folds into one SQL statement. Params
// are ordered exactly as their placeholders appear in SQL.
type FoldedPlan struct {
	SQL    string
	Params []any
}

// HybridPlan means a step prefix folds into one SQL statement and the
// Remaining steps run locally against its result. Diagnostics carries any
// firewall events recorded while deciding what could fold.
type HybridPlan struct {
	SQL         string
	Params      []any
	Remaining   []Step
	Diagnostics []FirewallEvent
}

func (LocalPlan) foldPlan()  {}
func (FoldedPlan) foldPlan() {}
func (HybridPlan) foldPlan() {}

func (LocalPlan) PlanKind() string  { return "local" }
func (FoldedPlan) PlanKind() string { return "folded" }
func (HybridPlan) PlanKind() string { return "hybrid" }
