// Package fn holds the engine's small generic helpers: a Result carrier,
// bounded retry with jittered backoff, slice transforms and a parallel map.
// Source adapters retry transient faults through it; the executor and the
// feed poller use the slice and parallel pieces when shaping items.
package fn

// Result[T] carries a value or an error through retry and parallel helpers.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err wraps an error.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromPair lifts a conventional (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk reports whether the Result holds a value.
func (r Result[T]) IsOk() bool { return r.ok }

// Unwrap lowers the Result back to a (value, error) pair.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// UnwrapOr returns the value, or fallback when the Result holds an error.
func (r Result[T]) UnwrapOr(fallback T) T {
	if r.ok {
		return r.val
	}
	return fallback
}

// Collect flattens results into one Result: every value in order, or the
// first error encountered.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if !r.ok {
			return Err[[]T](r.err)
		}
		out = append(out, r.val)
	}
	return Ok(out)
}
