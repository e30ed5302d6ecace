// Package dialect provides the SQL dialect configuration used by the folding
// compiler: placeholder formatting, identifier quoting and limit emission.
// Concrete dialects register themselves from pkg/adapters/*/ packages or from
// builtin.go.
package dialect

import (
	"strconv"
	"strings"
)

// PlaceholderStyle selects how query parameters are formatted.
type PlaceholderStyle int

const (
	// PlaceholderQuestion formats every placeholder as "?".
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar formats placeholders as "$1", "$2", ...
	PlaceholderDollar
)

// Dialect is a SQL dialect configuration. Dialects are immutable after
// registration.
type Dialect struct {
	Name        string
	Placeholder PlaceholderStyle

	// Identifier quoting.
	Quote    string
	QuoteEnd string
	Escape   string

	// SupportsNullOrdering reports whether ORDER BY accepts NULLS FIRST/LAST.
	SupportsNullOrdering bool
}

// FormatPlaceholder returns a placeholder for the given 1-based parameter
// index.
func (d *Dialect) FormatPlaceholder(index int) string {
	if d.Placeholder == PlaceholderDollar {
		return "$" + strconv.Itoa(index)
	}
	return "?"
}

// QuoteIdentifier quotes an identifier, escaping embedded quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, d.QuoteEnd, d.Escape)
	return d.Quote + escaped + d.QuoteEnd
}
