// Package firewall implements the privacy firewall: the policy that decides
// whether sources of differing privacy levels may be combined, at fold time
// (one SQL statement spanning multiple sources) and at combine time (an
// in-memory merge or append of materialized tables).
package firewall

import (
	"log/slog"
	"sort"

	"github.com/quarrylabs/quarry/pkg/core"
)

// Firewall evaluates privacy policy for source combinations. Construct one
// per engine instance; it holds no mutable state beyond its sinks.
type Firewall struct {
	logger     *slog.Logger
	onProgress core.ProgressFunc
}

// New creates a firewall. A nil logger discards log output.
func New(logger *slog.Logger, onProgress core.ProgressFunc) *Firewall {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Firewall{logger: logger, onProgress: onProgress}
}

// Decision is the outcome of one firewall evaluation.
type Decision struct {
	Action core.FirewallAction
	// Event is the audit record, present whenever the combination was
	// disallowed by policy (action warn or block). Allowed combinations
	// record no event.
	Event *core.FirewallEvent
}

// Err converts a blocking decision into the error the engine raises. Returns
// nil unless the action is block.
func (d Decision) Err() error {
	if d.Action != core.ActionBlock {
		return nil
	}
	return &core.FirewallError{Event: *d.Event}
}

// Evaluate applies the privacy lattice to a set of participating sources.
//
// The complete lattice:
//   - any set of sources sharing one level is allowed in every mode, at both
//     phases;
//   - private crossing public or organizational is disallowed at both phases
//     (a private row must never reach a less trusted endpoint, folded or
//     local);
//   - organizational crossing public is disallowed at the folding phase only:
//     a single cross-source statement ships organizational rows to the public
//     endpoint, while a local combine of two already-materialized non-private
//     tables stays inside the engine;
//   - mode ignore allows everything and records nothing; mode warn records
//     the violation but allows; mode enforce blocks it.
func (f *Firewall) Evaluate(phase core.FirewallPhase, operation string, sources []core.SourceRef, mode core.PrivacyMode) Decision {
	if mode == core.PrivacyIgnore {
		return Decision{Action: core.ActionAllow}
	}
	if !disallowed(phase, sources) {
		return Decision{Action: core.ActionAllow}
	}

	action := core.ActionWarn
	if mode == core.PrivacyEnforce {
		action = core.ActionBlock
	}
	event := &core.FirewallEvent{
		Phase:     phase,
		Action:    action,
		Operation: operation,
		Sources:   sortedSources(sources),
	}
	f.logger.Warn("privacy firewall triggered",
		"phase", string(phase),
		"action", string(action),
		"operation", operation,
		"sources", len(event.Sources),
	)
	f.onProgress.Emit(*event)
	return Decision{Action: action, Event: event}
}

// disallowed reports whether the level combination violates policy at the
// given phase.
func disallowed(phase core.FirewallPhase, sources []core.SourceRef) bool {
	var hasPublic, hasOrganizational, hasPrivate bool
	for _, s := range sources {
		switch s.Level {
		case core.Public:
			hasPublic = true
		case core.Organizational:
			hasOrganizational = true
		case core.Private:
			hasPrivate = true
		}
	}
	if hasPrivate && (hasPublic || hasOrganizational) {
		return true
	}
	if phase == core.PhaseFolding && hasOrganizational && hasPublic {
		return true
	}
	return false
}

// sortedSources returns the participants deduplicated by SourceID and sorted
// for stable audit records.
func sortedSources(sources []core.SourceRef) []core.SourceRef {
	seen := make(map[core.SourceID]struct{}, len(sources))
	out := make([]core.SourceRef, 0, len(sources))
	for _, s := range sources {
		if _, ok := seen[s.SourceID]; ok {
			continue
		}
		seen[s.SourceID] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}
