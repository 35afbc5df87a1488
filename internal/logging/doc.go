// Package logging assembles the structured slog loggers used across mnemo.
//
// It owns the console and JSON handlers, centralizes level plumbing, and
// exposes typed attribute helpers plus the standardized field names so every
// component emits log lines with the same shape. A no-op logger is provided
// for tests and wiring code that cannot fail.
package logging
