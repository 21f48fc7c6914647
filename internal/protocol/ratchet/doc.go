// Package ratchet implements the symmetric-key ratchet that derives one
// message key per message from a session's directional chains.
//
// Each chain step runs HKDF-SHA256 over the current chain key and yields the
// next chain key plus a message key; old keys are wiped so a compromised
// session cannot decrypt earlier traffic. Receiving chains may jump ahead up
// to a bound, caching the skipped keys for late arrivals. Every key is used
// at most once; a second use of an index is a replay.
//
// Concurrency: SessionState is NOT safe for concurrent use. Callers must
// serialise access per conversation.
package ratchet
