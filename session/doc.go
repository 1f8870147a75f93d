// Package session provides a generic, TTL- and capacity-bounded in-memory
// registry of long-lived stateful objects (assistants, concierge routers)
// keyed by opaque session ids.
//
// Every lookup first evicts sessions idle for longer than the TTL, then the
// oldest created sessions beyond MaxSessions. Evicted ids are remembered in a
// bounded set so callers can tell an expired session from one that never
// existed. Nothing is persisted; a process restart forgets all sessions.
package session
