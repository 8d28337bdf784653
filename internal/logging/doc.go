// Package logging provides a minimal leveled logging wrapper around the
// standard library logger. The level is read once from the DEBUG and
// LOG_LEVEL environment variables and can be overridden in tests with
// SetLevel.
package logging
