// Package main runs the in-memory HTTP relay used by pulse clients during
// development and tests. It hands out published pre-key bundles and keeps
// an ordered envelope log per conversation.
//
// HTTP API
//
//	POST /bundles/{user}
//	    Queue the user's pre-key bundles. Each bundle with a one-time
//	    pre-key is served once; a bundle without one is kept as last resort.
//
//	GET /bundles/{user}
//	    Take the next bundle for {user}, 404 when none was published.
//
//	POST /conversations/{id}/envelopes
//	    Append an Envelope. The relay assigns its sequence number and time.
//
//	GET /conversations/{id}/envelopes?after=N&wait=MS
//	    Return envelopes with a sequence number above N, waiting up to MS
//	    milliseconds when there are none yet.
//
//	GET /metrics
//	    Prometheus metrics.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Envelopes are never removed, so a client may replay a conversation
//     from sequence 0.
//   - The default listen address is :8080.
//
// The relay never sees plaintext or private keys; it only stores ciphertext
// and public bundles.
package main
