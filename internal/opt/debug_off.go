//go:build !clht_debug

package opt

// Debug_ enables invariant checks after every table mutation.
// Use: go test -tags=clht_debug
const Debug_ = false
