package engine

// Advisory is the result of a best-effort side effect: an operation whose
// failure is logged but never propagated as the caller's primary error.
// Keeping the asymmetry in the type makes the fire-and-forget contract
// visible at every call site instead of hiding it in a catch-and-log.
type Advisory[T any] struct {
	// Attempted is false when the side effect was skipped entirely.
	Attempted bool `json:"attempted"`

	// Value is the side effect's result, valid only when Err is nil.
	Value T `json:"value,omitempty"`

	// Err is the side effect's failure, for logging only.
	Err error `json:"-"`
}

// OK returns true if the side effect was attempted and succeeded.
func (a Advisory[T]) OK() bool {
	return a.Attempted && a.Err == nil
}

// AdvisoryOf wraps an attempted side effect result.
func AdvisoryOf[T any](value T, err error) Advisory[T] {
	return Advisory[T]{Attempted: true, Value: value, Err: err}
}

// AdvisorySkipped marks a side effect that was not attempted.
func AdvisorySkipped[T any]() Advisory[T] {
	return Advisory[T]{}
}
