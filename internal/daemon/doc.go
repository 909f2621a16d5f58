// Package daemon coordinates the long-running convertd process.
//
// It wires configuration, the durable queue, the record store, the object
// store and the three worker pools (conversion, scheduler, notification)
// into a single lifecycle with flock-based locking to prevent multiple
// instances. Alongside the pools it runs the recurring-trigger poller, the
// expired-lease reclaimer and the HTTP API.
//
// Keep orchestration logic here: job semantics live in the conversion,
// scheduling and notifications packages while the daemon focuses on startup,
// shutdown and high level coordination.
package daemon
