// Package probe picks the first working candidate from an ordered list.
package probe

// First evaluates ok on each candidate in slice order and returns the first
// one it accepts. Later candidates are never probed once one matches.
func First[T any](candidates []T, ok func(T) bool) (T, bool) {
	for _, c := range candidates {
		if ok(c) {
			return c, true
		}
	}

	var zero T
	return zero, false
}

// Dedupe drops repeated candidates, keeping the first occurrence so the
// priority order is preserved.
func Dedupe[T comparable](candidates []T) []T {
	seen := make(map[T]struct{}, len(candidates))
	out := make([]T, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
