package scalar

// InferKind determines a column kind from sampled cell values.
//
// The first non-null sample decides the candidate kind; any later non-null
// sample of a different kind collapses the column to Any. A column with no
// non-null samples is Any. This makes inference deterministic and
// order-independent for homogeneous columns while refusing to guess a
// dominant type for heterogeneous ones.
func InferKind(samples []any) Kind {
	kind := Any
	seen := false
	for _, v := range samples {
		if IsNull(v) {
			continue
		}
		k := KindOf(v)
		if !seen {
			kind = k
			seen = true
			continue
		}
		if k != kind {
			return Any
		}
	}
	return kind
}
