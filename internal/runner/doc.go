// Package runner executes external commands for the provisioning session.
//
// Child output never reaches the parent's console directly: stdout and
// stderr are captured together into a private scratch file, relayed through
// the session log as ordinary records, and the scratch file is removed on
// every exit path. Callers pass structured argument lists; there is no shell
// involved and no string concatenation of command lines.
package runner
