// Package envctx models the PATH-style environment a provisioning session
// mutates as an explicit value instead of a silent process-wide side effect.
//
// Tool provisioning appends directories to a Context, applies it to the
// running process so later stages see newly installed binaries without a
// restart, and persists the addition for future shells. Tests assert on the
// Context directly without touching the real environment.
package envctx
