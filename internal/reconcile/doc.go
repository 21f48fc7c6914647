// Package reconcile merges optimistic local sends with the authoritative
// remote stream into one ordered, duplicate-free timeline per conversation.
//
// Ordering is by CreatedAt. On equal timestamps messages from other users
// sort before the local user's, and messages from the same sender keep
// arrival order. Local echoes are appended at the tail with CreatedAt
// clamped so they never appear earlier than what is already displayed.
// Status only moves forward along
//
//	sending -> sent -> delivered -> read
//	sending -> failed -> sending (retry)
//
// and updates that would regress are dropped silently.
package reconcile
