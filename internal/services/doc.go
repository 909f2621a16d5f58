// Package services defines shared utilities consumed by the workers, the
// dispatcher and the API.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, conversion IDs, job types and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper; Retryable separates
//     failures worth another attempt from ones that will fail identically.
package services
