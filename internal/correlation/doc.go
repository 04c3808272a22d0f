// Package correlation carries a requester identity from the ingress permission
// check to the display call that follows it.
//
// Entries are keyed by an opaque token, consumed at most once and expire after
// a TTL. Stores are injected; there is no process-wide table.
package correlation
