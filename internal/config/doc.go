// Package config defines provisioning session settings and provides helpers
// to load, validate and save them in YAML format.
//
// The Config type holds the install and temp roots, the application source
// repository, the interpreter requirement, the accelerated wheel list, the
// plugin manifest location and retry tuning. Command-line flags override
// values loaded from the file.
package config
