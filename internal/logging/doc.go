// Package logging assembles structured slog loggers and formatting helpers used
// across convertd.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker code can tag log lines
// with job IDs, job types, conversion IDs and correlation IDs. A no-op logger
// serves tests and wiring code that cannot fail.
package logging
