// Package scheduling manages recurring conversions.
//
// A schedule is a records.ScheduledJob paired with a queue trigger keyed
// "schedule-<uuid>". The queue's recurring runner enqueues a
// scheduled-trigger job on every cron fire; Worker turns each of those into
// an ordinary conversion submission.
package scheduling
