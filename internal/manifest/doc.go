// Package manifest reads the declarative plugin manifest consumed at the
// plugin-installation stage.
//
// The manifest is external data: a YAML list of plugin repositories with an
// optional install subfolder and an optional dependency file. It is read
// once per session and never written.
package manifest
