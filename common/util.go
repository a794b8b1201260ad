package common

import (
	"github.com/cockroachdb/errors"
)

// Assert panics with a formatted assertion failure if cond is false. It guards invariants whose violation means a
// bug in this module rather than bad input.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}

// AlignedTo8 reports whether n is a multiple of 8.
func AlignedTo8(n int) bool {
	return n&7 == 0
}

// Align8 rounds n up to the next multiple of 8.
func Align8(n int) int {
	return (n + 7) &^ 7
}
