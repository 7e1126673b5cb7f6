//go:build !race

package opt

// Race_ reports whether the race detector is enabled. When it is, plain
// loads and stores on TSO architectures are replaced by atomics so the
// detector can see the synchronization.
const Race_ = false
