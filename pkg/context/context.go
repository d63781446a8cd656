// Package context is a set of shorter names for the very stretched out
// standard library context library names.
package context

import "context"

type (
	T = context.Context
	F = context.CancelFunc
)

var (
	Bg      = context.Background
	Cancel  = context.WithCancel
	Timeout = context.WithTimeout
	TODO    = context.TODO
	Value   = context.WithValue
)
