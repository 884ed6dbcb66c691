// Package notify owns per-identity notification queues, push subscriptions and
// the asynchronous delivery of push, email and webhook side effects.
//
// Queue and subscription helpers run under the store lock. The Dispatcher runs
// transports after the lock is released and never reports transport failures
// back to callers: they are logged at warn and counted.
package notify
