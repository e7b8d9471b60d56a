//go:build leakcheck

package leaks

// Enabled reports whether handle tracking is compiled in.
const Enabled = true
