// Package runner is the entry point for driving conversations.
//
// A Runner owns two session stores: one for single assistants, one for
// concierge routers (the multi-agent system). Callers create a session,
// keep its id and send messages against it. Every call acquires the
// session's lease, so concurrent requests on one session are served one after
// another while different sessions run in parallel.
//
// An optional cron schedule runs a background sweep that evicts expired
// sessions even when nobody touches the stores.
package runner
