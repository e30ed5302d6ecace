// Package core defines the shared data model and collaborator contracts for
// the Quarry engine: queries, transformation steps, tables, fold plans,
// privacy levels and the interfaces implemented by connectors, spill stores
// and cache managers.
//
// The package is deliberately free of engine logic. Implementations live in
// internal/ (folding compiler, firewall, external sort, orchestrator) and in
// pkg/adapter (database connectors). Keeping the contracts here avoids import
// cycles between the engine and its pluggable collaborators.
package core
