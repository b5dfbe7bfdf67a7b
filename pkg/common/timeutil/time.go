// Package timeutil provides an injectable clock.
package timeutil

import "time"

// Provider is an interface that provides a Now method to get the current time.
type Provider interface {
	Now() time.Time
}

type realProvider struct{}

// Default returns the wall-clock Provider in UTC.
func Default() Provider { return realProvider{} }

func (realProvider) Now() time.Time { return time.Now().UTC() }

// Unset is the sentinel stored in timestamp columns that are logically empty.
var Unset = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// IsUnset reports whether t is the zero time or the Unset sentinel.
func IsUnset(t time.Time) bool { return t.IsZero() || t.Equal(Unset) }
