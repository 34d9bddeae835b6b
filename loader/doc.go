// Package loader is the admission-controlled image loader.
//
// At most MaxConcurrent fetch+decode tasks run at once. Everything else
// waits in a queue ordered by tier (critical, high, normal) and, within a
// tier, by submission order. A finished task frees its slot and the head
// of the queue starts right away.
//
// Callers get a *Ticket, never the task itself. Cancelling a queued ticket
// guarantees the fetch never happens. Cancelling a running one is
// cooperative: the fetch and decode finish, the value still goes to the
// Sink (so it lands in cache like any other entry), but it is not delivered
// to the ticket.
//
// Each task has its own deadline. Expiry counts as a failure and frees the
// slot. A failed request that names a Fallback URL is retried exactly once
// against it at high tier; the fallback's failure is final.
package loader
