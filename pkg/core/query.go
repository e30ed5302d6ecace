package core

import "fmt"

// SourceType tags the variant of a query source.
type SourceType string

const (
	// SourceCSV reads a delimited text file from the local filesystem.
	SourceCSV SourceType = "csv"
	// SourceHTTP fetches a table from an HTTP endpoint.
	SourceHTTP SourceType = "http"
	// SourceDatabase runs a native query against a SQL database.
	SourceDatabase SourceType = "database"
)

// Source describes where a query's initial table comes from. Which fields are
// meaningful depends on Type; only database sources with a declared Dialect
// are eligible for query folding.
type Source struct {
	Type SourceType `json:"type" yaml:"type"`

	// CSV sources.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// HTTP sources.
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Database sources. Query is the native statement or table reference the
	// pipeline starts from; Dialect names the SQL dialect for folding.
	Connection string `json:"connection,omitempty" yaml:"connection,omitempty"`
	Query      string `json:"query,omitempty" yaml:"query,omitempty"`
	Dialect    string `json:"dialect,omitempty" yaml:"dialect,omitempty"`
}

// Foldable reports whether the source is eligible for query folding.
func (s Source) Foldable() bool {
	return s.Type == SourceDatabase && s.Dialect != ""
}

// Validate checks that the fields required by the source type are present.
func (s Source) Validate() error {
	switch s.Type {
	case SourceCSV:
		if s.Path == "" {
			return &ValidationError{Msg: "csv source requires a path"}
		}
	case SourceHTTP:
		if s.URL == "" {
			return &ValidationError{Msg: "http source requires a url"}
		}
	case SourceDatabase:
		if s.Connection == "" {
			return &ValidationError{Msg: "database source requires a connection"}
		}
		if s.Query == "" {
			return &ValidationError{Msg: "database source requires a query"}
		}
	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown source type %q", s.Type)}
	}
	return nil
}

// Query is a named pipeline: a source plus an ordered list of transformation
// steps. Steps are executed strictly in declared order, never reordered.
type Query struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Source Source `json:"source" yaml:"source"`
	Steps  []Step `json:"steps" yaml:"steps"`
}

// Validate checks the query's structural invariants before any I/O.
func (q *Query) Validate() error {
	if q.ID == "" {
		return &ValidationError{Msg: "query requires an id"}
	}
	if err := q.Source.Validate(); err != nil {
		return fmt.Errorf("query %s: %w", q.ID, err)
	}
	for i, step := range q.Steps {
		if step.Op == nil {
			return &ValidationError{Msg: fmt.Sprintf("query %s: step %d has no operation", q.ID, i)}
		}
		if err := step.Op.validate(); err != nil {
			return fmt.Errorf("query %s step %s: %w", q.ID, step.ID, err)
		}
	}
	return nil
}
