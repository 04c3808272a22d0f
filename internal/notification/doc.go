// Package notification turns a requester's display call into a
// platform notification.
//
// The pipeline has three stages:
//   - ingress: the caller's goroutine builds a Delegate (consuming the
//     requester's correlation entry) and asks the permission gate
//   - decision: a watcher waits for the asynchronous answer and queues
//     granted requests
//   - presentation: a single worker owns every presenter call
//
// None of the stages report failures to the requester. Denials, missing
// presenters, correlation misses and unavailable script runtimes are logged,
// counted and published on the event bus as dispatch.* events.
package notification
