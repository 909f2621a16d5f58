// Package notifications renders and delivers outbound notification mail.
//
// Producers call Enqueuer.Enqueue with a Kind and its typed payload; the job
// lands on the notification queue and is consumed by Worker, which renders the
// HTML template for the kind and hands the message to a Transport. Delivery
// runs in its own failure domain: errors retry under the notification queue's
// policy and never touch conversion records.
//
// Transports:
//   - SMTP through go-mail when mail.enabled is true
//   - a log transport otherwise, which records what would have been sent
package notifications
