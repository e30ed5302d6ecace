package dialect

func init() {
	Register(SQLite)
	Register(DuckDB)
	Register(Postgres)
}

// SQLite is the dialect for SQLite connections.
var SQLite = &Dialect{
	Name:                 "sqlite",
	Placeholder:          PlaceholderQuestion,
	Quote:                `"`,
	QuoteEnd:             `"`,
	Escape:               `""`,
	SupportsNullOrdering: true,
}

// DuckDB is the dialect for DuckDB connections.
var DuckDB = &Dialect{
	Name:                 "duckdb",
	Placeholder:          PlaceholderQuestion,
	Quote:                `"`,
	QuoteEnd:             `"`,
	Escape:               `""`,
	SupportsNullOrdering: true,
}

// Postgres is the dialect for PostgreSQL connections.
var Postgres = &Dialect{
	Name:                 "postgres",
	Placeholder:          PlaceholderDollar,
	Quote:                `"`,
	QuoteEnd:             `"`,
	Escape:               `""`,
	SupportsNullOrdering: true,
}
