// Package lane serializes work per conversation. Each conversation gets one
// goroutine draining an op channel, so ratchet advances, cipher calls and
// timeline mutations of a conversation never interleave, while different
// conversations proceed in parallel.
package lane
