package core

import "fmt"

// PrivacyLevel is a caller-declared sensitivity tag on a source. Levels are
// ordered: Public < Organizational < Private. There is no implicit default;
// the level map is explicit per execution context.
type PrivacyLevel int

const (
	Public PrivacyLevel = iota
	Organizational
	Private
)

// String returns the lowercase level name.
func (l PrivacyLevel) String() string {
	switch l {
	case Public:
		return "public"
	case Organizational:
		return "organizational"
	case Private:
		return "private"
	}
	return fmt.Sprintf("privacylevel(%d)", int(l))
}

// ParsePrivacyLevel resolves a level name.
func ParsePrivacyLevel(name string) (PrivacyLevel, error) {
	switch name {
	case "public":
		return Public, nil
	case "organizational":
		return Organizational, nil
	case "private":
		return Private, nil
	}
	return 0, &ValidationError{Msg: fmt.Sprintf("unknown privacy level %q", name)}
}

// PrivacyMode selects how the firewall reacts to cross-level combinations.
type PrivacyMode string

const (
	// PrivacyIgnore allows everything and emits no diagnostics.
	PrivacyIgnore PrivacyMode = "ignore"
	// PrivacyWarn allows everything but emits warn events for disallowed
	// combinations.
	PrivacyWarn PrivacyMode = "warn"
	// PrivacyEnforce blocks disallowed combinations with a FirewallError.
	PrivacyEnforce PrivacyMode = "enforce"
)

// FirewallPhase identifies where a combination is being attempted.
type FirewallPhase string

const (
	// PhaseFolding guards emission of a single SQL statement spanning
	// multiple sources.
	PhaseFolding FirewallPhase = "folding"
	// PhaseCombine guards an in-memory merge or append of two
	// already-materialized tables.
	PhaseCombine FirewallPhase = "combine"
)

// FirewallAction is the firewall's verdict on a combination.
type FirewallAction string

const (
	ActionAllow FirewallAction = "allow"
	ActionWarn  FirewallAction = "warn"
	ActionBlock FirewallAction = "block"
)

// SourceRef is one participant in a firewall decision.
type SourceRef struct {
	SourceID SourceID     `json:"sourceId"`
	Level    PrivacyLevel `json:"level"`
}

// FirewallEvent is the audit record of one firewall evaluation. Sources are
// always sorted by SourceID.
type FirewallEvent struct {
	Phase     FirewallPhase  `json:"phase"`
	Action    FirewallAction `json:"action"`
	Operation string         `json:"operation"`
	Sources   []SourceRef    `json:"sources"`
}

func (e FirewallEvent) eventKind() string { return "firewall" }
