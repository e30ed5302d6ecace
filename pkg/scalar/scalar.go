// Package scalar provides the type-aware total ordering over cell values used
// by every sorting component in Quarry. The Comparator defined here is the
// sole ordering authority: local sort steps, the external sort engine and the
// folding compiler's ORDER BY decisions all receive it by injection rather
// than reimplementing comparison rules.
package scalar

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Kind identifies the scalar type of a cell value or column.
type Kind int

const (
	// Any is the kind of columns with no single inferable type.
	Any Kind = iota
	// Number covers integer and floating point values.
	Number
	// Boolean covers true/false values.
	Boolean
	// Text covers string values.
	Text
	// Date is a calendar date without time component.
	Date
	// DateTime is a date with time of day, no zone.
	DateTime
	// DateTimeZone is a zone-aware date with time of day.
	DateTimeZone
	// Time is a time of day without date.
	Time
	// Duration is an elapsed-time value.
	Duration
	// Decimal is an arbitrary-precision decimal value.
	Decimal
	// Binary is a raw byte sequence.
	Binary
)

var kindNames = map[Kind]string{
	Any:          "any",
	Number:       "number",
	Boolean:      "boolean",
	Text:         "text",
	Date:         "date",
	DateTime:     "datetime",
	DateTimeZone: "datetimezone",
	Time:         "time",
	Duration:     "duration",
	Decimal:      "decimal",
	Binary:       "binary",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "any"
}

// ParseKind resolves a kind name. Unknown names map to Any.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return Any
}

// KindOf reports the kind of a single Go value as produced by the adapters.
// Temporal values arrive as time.Time and classify as DateTime; the finer
// date/time/zone kinds are carried on the column, not the value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return Any
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Number
	case bool:
		return Boolean
	case string:
		return Text
	case time.Time:
		return DateTime
	case time.Duration:
		return Duration
	case *apd.Decimal:
		return Decimal
	case []byte:
		return Binary
	default:
		return Any
	}
}

// IsNull reports whether a cell value is null.
func IsNull(v any) bool {
	return v == nil
}

// Direction selects the sort direction for one key.
type Direction int

const (
	// Ascending sorts smallest first.
	Ascending Direction = iota
	// Descending sorts largest first.
	Descending
)

// String returns "ascending" or "descending".
func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// NullOrder selects where null values sort relative to non-null values.
type NullOrder int

const (
	// NullsFirst sorts nulls before every non-null value.
	NullsFirst NullOrder = iota
	// NullsLast sorts nulls after every non-null value.
	NullsLast
)

// SortOpts bundles the per-key comparison options.
type SortOpts struct {
	Direction Direction
	Nulls     NullOrder
}

// Comparator implements the total ordering over cell values. Construct one
// per engine instance with NewComparator; the zero value is not usable.
type Comparator struct {
	collator *collate.Collator
}

// NewComparator creates a comparator with a locale-neutral collator for the
// string fallback path.
func NewComparator() *Comparator {
	return &Comparator{collator: collate.New(language.Und)}
}

// CompareNonNull compares two non-null values and returns a negative, zero or
// positive result. Both values being non-null is the caller's contract;
// Compare handles nulls.
//
// Same-kind pairs use native comparison: numeric subtraction for numbers and
// booleans, epoch-millisecond difference for temporal values, decimal
// comparison when both operands are finite. Everything else, including
// mixed-kind pairs, falls back to collation over canonical string forms.
func (c *Comparator) CompareNonNull(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return compareFloat(af, bf)
		}
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return compareInt64(av.UnixMilli(), bv.UnixMilli())
		}
	case time.Duration:
		if bv, ok := b.(time.Duration); ok {
			return compareInt64(av.Milliseconds(), bv.Milliseconds())
		}
	case *apd.Decimal:
		if bv, ok := b.(*apd.Decimal); ok {
			if av.Form == apd.Finite && bv.Form == apd.Finite {
				return av.Cmp(bv)
			}
		}
	}
	return c.collator.CompareString(CanonicalString(a), CanonicalString(b))
}

// Compare compares two possibly-null values under the given sort options.
// Nulls sort first or last per opts.Nulls regardless of direction; non-null
// pairs use CompareNonNull, negated when descending.
func (c *Comparator) Compare(a, b any, opts SortOpts) int {
	aNull, bNull := IsNull(a), IsNull(b)
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		if opts.Nulls == NullsLast {
			return 1
		}
		return -1
	case bNull:
		if opts.Nulls == NullsLast {
			return -1
		}
		return 1
	}
	result := c.CompareNonNull(a, b)
	if opts.Direction == Descending {
		return -result
	}
	return result
}

// CanonicalString renders a value in its canonical textual form: ISO-8601
// for temporal values, the decimal's own text form, hex for binary.
func CanonicalString(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(tv), 'g', -1, 32)
	case time.Time:
		return tv.Format(time.RFC3339Nano)
	case time.Duration:
		return tv.String()
	case *apd.Decimal:
		return tv.String()
	case []byte:
		return hex.EncodeToString(tv)
	default:
		if f, ok := asFloat(v); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return fmt.Sprintf("%v", v)
	}
}

// asFloat widens any numeric or boolean value to float64. Booleans widen to
// 0/1 so they share the numeric-subtraction comparison path.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
