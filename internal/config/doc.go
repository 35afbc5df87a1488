// Package config loads, normalizes, and validates mnemo's TOML configuration.
//
// Configuration flows one way: the composition root calls Load, which layers
// the file over repository defaults, expands paths, and rejects invalid
// values before any other package sees the result. Consumers treat the
// resulting Config as read-only; duration-valued settings are exposed through
// typed accessors so the rest of the codebase never touches raw integers.
package config
