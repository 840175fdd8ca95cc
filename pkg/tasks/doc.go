// Package tasks executes potentially slow or failing actions (typically
// network calls) on a worker pool with bounded retry, keeping the host's
// control goroutine free.
//
// # Overview
//
// Submit schedules an action with a retry Policy and returns immediately
// with a Handle. The action runs on a worker goroutine; retry backoff waits
// happen on the worker, never on the caller. Exactly one terminal
// Completion — succeeded, failed or cancelled — is delivered per task, even
// when a cancellation races the action finishing.
//
// # Completion Delivery
//
// All completions land on a single channel (Completions) regardless of which
// worker ran the action. The host drains that channel on its control
// goroutine, which is the concurrency bridge the presentation layer depends
// on. Completions arrive in finish order, not submission order.
//
// # Retry Policy
//
// A Policy names the maximum attempt count, the backoff shape (constant or
// exponential with jitter, via cenkalti/backoff), a per-attempt timeout and
// a classifier deciding which failures are retryable. Wrapping an error with
// Permanent marks it terminal regardless of the classifier.
//
// # Cancellation
//
// Cancel is best-effort: it prevents completion delivery going forward and
// cancels the attempt context, but the underlying action may still run to
// the end of its current attempt. Side effects of an in-flight action are
// not rolled back. CancelOwned cancels every outstanding task submitted
// under one owner; the plugin registry calls it on unload.
package tasks
