//go:build !unix

package netharness

// ignoreTermination is a no-op where we cannot ignore termination.
func ignoreTermination() {}
