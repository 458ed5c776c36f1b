// Package lazy holds values that may or may not have been fetched from the store.
package lazy

// Value is either NotLoaded or Loaded(v). The zero Value is NotLoaded.
type Value[T any] struct {
	v      T
	loaded bool
}

func Loaded[T any](v T) Value[T] { return Value[T]{v: v, loaded: true} }

func NotLoaded[T any]() Value[T] { return Value[T]{} }

// Get returns the value and whether it was loaded.
func (l Value[T]) Get() (T, bool) { return l.v, l.loaded }

func (l Value[T]) IsLoaded() bool { return l.loaded }

// OrElse returns the loaded value or def.
func (l Value[T]) OrElse(def T) T {
	if !l.loaded {
		return def
	}
	return l.v
}

// Map transforms a loaded value in place; NotLoaded stays NotLoaded.
func Map[T any](l Value[T], fn func(T) T) Value[T] {
	if !l.loaded {
		return l
	}
	return Loaded(fn(l.v))
}
