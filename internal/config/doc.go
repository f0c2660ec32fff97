// Package config loads, normalizes, and validates archon's TOML
// configuration. Defaults cover every field so the daemon can start
// without a config file; explicit values are expanded (paths) and
// range-checked before use.
package config
