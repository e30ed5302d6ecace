package core

import "context"

// ExecOptions are the per-execution options of a query run.
type ExecOptions struct {
	// Limit caps the number of result rows. Zero means no limit. The limit is
	// pushed into generated SQL only when the entire plan folds; otherwise it
	// is applied after the last local step.
	Limit int
}

// SQLOptions carry the parameters of one connector round trip.
type SQLOptions struct {
	// Params are bound to placeholders in the order they appear in the SQL.
	Params []any
	// Limit optionally caps returned rows at the driver level. Zero means no
	// cap.
	Limit int
}

// Connector executes native SQL against a database connection. Connector
// errors propagate to the caller unwrapped and are never retried.
type Connector interface {
	QuerySQL(ctx context.Context, connection, sql string, opts SQLOptions) (*DataTable, error)
}

// ConnectionIdentifier is optionally implemented by connectors that can
// derive a stable, JSON-serializable identity for a connection string. Used
// for SourceID derivation; connectors without it fall back to the raw
// connection string.
type ConnectionIdentifier interface {
	ConnectionIdentity(connection string) (any, bool)
}

// RowIterator walks the rows of one spill run.
type RowIterator interface {
	// Next returns the next row. The second result is false when the run is
	// exhausted.
	Next(ctx context.Context) (Row, bool, error)
	Close() error
}

// SpillStore persists sorted spill runs for the external sort engine. A
// store may be shared across concurrently running sorts only when callers
// guarantee disjoint run-key prefixes; the engine does no locking of its own.
type SpillStore interface {
	// PutBatch appends a chunk of rows to a run.
	PutBatch(ctx context.Context, runKey string, rows []Row) error
	// IterateRows opens a row iterator over a run, in written order.
	IterateRows(ctx context.Context, runKey string) (RowIterator, error)
	// Clear deletes one run.
	Clear(ctx context.Context, runKey string) error
	// ClearPrefix deletes every run under a key prefix.
	ClearPrefix(ctx context.Context, prefix string) error
}

// CacheMeta is stored alongside a cached result table.
type CacheMeta struct {
	QueryID     string
	PrivacyMode PrivacyMode
}

// CacheManager stores materialized query results keyed by content-sensitive
// keys. Keys must cover the privacy configuration so a cached result is never
// served across differing privacy contexts.
type CacheManager interface {
	// ComputeKey derives the cache key for a query under the given privacy
	// configuration and options.
	ComputeKey(query *Query, mode PrivacyMode, levels map[SourceID]PrivacyLevel, opts ExecOptions) (string, error)
	Get(ctx context.Context, key string) (*DataTable, bool, error)
	Set(ctx context.Context, key string, table *DataTable, meta CacheMeta) error
}

// Event is a diagnostics event delivered through the progress channel.
type Event interface {
	eventKind() string
}

// ProgressFunc receives diagnostics events during query execution. A nil
// ProgressFunc drops all events.
type ProgressFunc func(Event)

// Emit delivers an event, tolerating a nil function.
func (f ProgressFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// SpillEvent reports that the external sort flushed a run to the spill store.
type SpillEvent struct {
	RunCount int
}

func (SpillEvent) eventKind() string { return "spill" }

// FoldEvent reports the plan kind chosen for a query.
type FoldEvent struct {
	QueryID  string
	PlanKind string
}

func (FoldEvent) eventKind() string { return "fold" }
