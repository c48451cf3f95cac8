// Package config loads and saves the application configuration as TOML.
//
// Values missing from the file keep their defaults, and a missing file means
// all defaults. Command-line flags override the loaded values.
package config
