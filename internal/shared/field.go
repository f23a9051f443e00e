package shared

// Field is a tri-state patch value: absent, explicit null, or a value.
// The zero Field is absent.
type Field[T any] struct {
	set   bool
	null  bool
	value T
}

// Some returns a Field carrying v.
func Some[T any](v T) Field[T] {
	return Field[T]{set: true, value: v}
}

// Null returns a Field that explicitly clears the target.
func Null[T any]() Field[T] {
	return Field[T]{set: true, null: true}
}

// Present reports whether the field was supplied at all.
func (f Field[T]) Present() bool { return f.set }

// IsNull reports whether the field was supplied as an explicit null.
func (f Field[T]) IsNull() bool { return f.set && f.null }

// Value returns the carried value and whether one is present.
func (f Field[T]) Value() (T, bool) {
	if !f.set || f.null {
		var zero T
		return zero, false
	}
	return f.value, true
}

// Apply returns current when the field is absent, zero when null, and the value otherwise.
func (f Field[T]) Apply(current T) T {
	if !f.set {
		return current
	}
	if f.null {
		var zero T
		return zero
	}
	return f.value
}
