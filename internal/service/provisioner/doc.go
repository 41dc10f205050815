// Package provisioner drives the provisioning pipeline: an ordered sequence
// of stages taking a host from a clean (or half-provisioned) state to a
// working ML application stack.
//
// Stages run strictly in order — tool bootstrap, source acquisition,
// isolated runtime creation, preserved-folder migration, dependency
// installation, accelerated component installation, plugin installation —
// and every stage is idempotent, so an interrupted session can simply be
// rerun. Failures are classified per stage: fatal preconditions abort the
// session, per-item failures are logged and skipped.
package provisioner
