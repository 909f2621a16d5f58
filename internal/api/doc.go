// Package api exposes convertd over HTTP and defines the transport DTOs
// shared with the CLI.
//
// # Routes
//
// All /api routes require the bearer token when one is configured and an
// X-Account-ID header naming the account the request acts for. /health and
// the signed /objects routes are public.
//
// # Key Types
//
// Server: the chi router plus its collaborators (record store, queue,
// submitter, schedule manager, object store).
//
// QueueService: read-only queue views (stats, dead jobs) returned as DTOs.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Errors are {"error": "..."} with the status derived from the services
// error markers; validation failures add a "fields" map.
package api
