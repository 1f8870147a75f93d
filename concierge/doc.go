// Package concierge implements the multi-agent router.
//
// A concierge assistant talks to the user. When it wants help it replies with
// a forwarding request instead of an answer:
//
//	{"assistant": "db_lookup", "user_request": "...", "context": "..."}
//
// The Router parses the request, hands the rendered request (and the user's
// image, if any) to the named specialist, and feeds the specialist's answer
// back to the concierge. This repeats until the concierge replies with plain
// text or the forwarding bound is hit.
package concierge
