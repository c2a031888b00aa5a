package fn

// Map transforms items elementwise, keeping order.
func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, 0, len(items))
	for _, v := range items {
		out = append(out, f(v))
	}
	return out
}

// Filter keeps the elements pred accepts.
func Filter[T any](items []T, pred func(T) bool) []T {
	var out []T
	for _, v := range items {
		if !pred(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// FilterMap maps and filters in one pass, keeping results where ok is true.
func FilterMap[T, U any](items []T, f func(T) (U, bool)) []U {
	var out []U
	for _, v := range items {
		u, ok := f(v)
		if !ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

// UniqueBy drops every element whose key has been seen before, keeping
// first occurrences in order. The rss adapter collapses cross-posted
// entries with it.
func UniqueBy[T any, K comparable](items []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(items))
	var out []T
	for _, v := range items {
		k := key(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Truncate caps items at its n leading elements; n < 0 means no cap.
func Truncate[T any](items []T, n int) []T {
	if n < 0 || n >= len(items) {
		return items
	}
	return items[:n]
}
