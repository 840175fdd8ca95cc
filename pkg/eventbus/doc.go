// Package eventbus provides an in-process publish/subscribe bus for
// decoupled communication between independently authored plugins.
//
// # Overview
//
// Plugins exchange notifications by topic string without holding references
// to each other. Publishers never learn who is subscribed; publishing to a
// topic with no subscribers is a legal no-op.
//
// # Delivery Semantics
//
// Delivery to the subscribers of one topic happens in subscription
// registration order. A handler that returns an error or panics is isolated:
// the failure is logged with the topic, the event source and the handler's
// owner, and delivery continues with the remaining subscribers. No ordering
// is guaranteed across different topics.
//
// # Ownership
//
// Every subscription is registered with an owner identity (the plugin name).
// UnsubscribeAll(owner) cancels everything a plugin registered, which the
// registry uses on unload to prevent dangling handler invocation.
//
// # Concurrency
//
// Publish may be called from worker goroutines while Subscribe/Unsubscribe
// run on the control goroutine. The subscriber list is snapshotted under a
// read lock and handlers run outside the lock.
package eventbus
