// Package conversion owns the life of a conversion request: submission from
// the API, CLI or scheduler, and the queue handler that drives a record from
// PENDING through PROCESSING to COMPLETE or FAILED.
//
// Every status write is a compare-and-set keyed by the queue lease token, so a
// duplicate or stale delivery can never move a record that another delivery
// already finished. In-app notifications are written after the terminal write
// and outbound mail is enqueued separately; failures of either are logged and
// never revert the terminal state.
package conversion
