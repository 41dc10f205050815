// Package tools guarantees the external commands a provisioning session
// depends on.
//
// Every dependency is expressed as a Requirement — a probe (PATH lookup or a
// fixed filesystem location) plus an installation procedure — and goes
// through the same policy: probe, install if missing, re-probe or fail.
// Ensure never reports success while the tool is still absent.
//
// The one special installation procedure lives here too: the bootstrap that
// obtains the aria2 download accelerator itself, which by definition cannot
// be downloaded with the accelerator.
package tools
