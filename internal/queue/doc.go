// Package queue implements the durable, lease-based job queue that feeds every
// worker pool.
//
// Jobs are delivered at least once. A lease grants one worker temporary
// ownership; a job whose lease expires without acknowledgement becomes
// eligible for redelivery. Failed attempts are requeued with backoff until
// MaxAttempts is exhausted, after which the job moves to a bounded dead set.
// Handlers mark deterministic failures with Permanent so they skip the retry
// budget entirely.
//
// Recurring triggers are registered under a stable trigger id bound to a cron
// expression. Registration is an idempotent upsert and removal stops future
// firings without touching jobs already in flight.
//
// Two backends implement Queue: SQLStore (SQLite polling table, the default)
// and RedisStore (sorted sets driven by Lua scripts). Pool runs a bounded
// number of handlers against either.
package queue
