// Package records persists the pipeline's domain records: source files,
// conversions, scheduled jobs and in-app notifications.
//
// Conversion status changes are compare-and-set updates keyed on the current
// status and, once a worker owns the record, on the queue lease token. A
// stale worker whose lease was taken over therefore cannot overwrite the
// outcome written by the new holder, and terminal states are never left.
//
// The store runs on SQLite by default and on PostgreSQL (lib/pq) when
// records.backend is "postgres". Queries are written with ? placeholders and
// rebound per dialect.
package records
