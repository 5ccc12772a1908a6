// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package vartype provides a small optional value wrapper. It is used for measurements that a position
// provider may or may not report, like the horizontal accuracy of a fix.
package vartype

import (
	"fmt"
)

// VarFloat64 is an optional float64 value.
type VarFloat64 = Variable[float64]

// Variable holds a value and tracks whether it has been set.
type Variable[T any] struct {
	value T
	isset bool
}

// NewVariable returns a Variable that is set to value.
func NewVariable[T any](value T) Variable[T] {
	return Variable[T]{
		isset: true,
		value: value,
	}
}

// FromPointer returns a set Variable if ptr is non-nil and an unset Variable otherwise.
func FromPointer[T any](ptr *T) Variable[T] {
	if ptr == nil {
		return Variable[T]{}
	}
	return NewVariable(*ptr)
}

// Value returns the stored value. The zero value of T is returned if the Variable is not set.
func (v Variable[T]) Value() T {
	return v.value
}

// Get returns the stored value and whether it is set.
func (v Variable[T]) Get() (T, bool) {
	return v.value, v.isset
}

// IsSet reports whether the Variable holds a value.
func (v Variable[T]) IsSet() bool {
	return v.isset
}

// String returns the value formatted with fmt.Sprint or "unknown" if the Variable is not set.
func (v Variable[T]) String() string {
	if !v.isset {
		return "unknown"
	}
	return fmt.Sprint(v.value)
}
