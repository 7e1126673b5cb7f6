//go:build clht_debug

package opt

// Debug_ enables invariant checks after every table mutation. A violated
// invariant panics: it means bucket memory is corrupted and the table can
// not be trusted any more.
const Debug_ = true
