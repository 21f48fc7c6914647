// Package security derives a conversation's encryption summary from facts
// gathered by the caller. Evaluate is pure and may be recomputed on every
// membership or verification change.
package security
