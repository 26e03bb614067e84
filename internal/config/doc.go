// Package config loads the call translator configuration.
// A YAML file is expanded against the environment (optionally seeded from a
// .env file), overlaid on the defaults, overridden by the provider
// credential variables and validated with struct tags plus per-section
// cross-field checks.
package config
