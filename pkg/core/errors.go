package core

import (
	"fmt"
	"strings"
)

// FirewallCategory is the error category carried by privacy firewall
// rejections, matching the category reported by the original formula
// firewall.
const FirewallCategory = "Formula.Firewall"

// ValidationError reports a malformed query or step. It is raised before any
// I/O happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// FirewallError is raised under PrivacyEnforce when the firewall blocks a
// combination, strictly before the corresponding I/O or in-memory join.
type FirewallError struct {
	Event FirewallEvent
}

func (e *FirewallError) Error() string {
	ids := make([]string, len(e.Event.Sources))
	for i, s := range e.Event.Sources {
		ids[i] = fmt.Sprintf("%s (%s)", s.SourceID, s.Level)
	}
	return fmt.Sprintf("%s: %s blocked at %s phase combining %s",
		FirewallCategory, e.Event.Operation, e.Event.Phase, strings.Join(ids, ", "))
}

// Category returns FirewallCategory, allowing callers to classify the error
// without matching message text.
func (e *FirewallError) Category() string {
	return FirewallCategory
}
