// Package message is the messenger: it turns user intents into encrypted
// envelopes and folds inbound envelopes back into per-conversation
// timelines.
//
// Every operation touching a conversation's ratchet, keys or timeline runs
// on that conversation's lane, so state changes are serialised per
// conversation while different conversations proceed in parallel.
// Cryptographic failures never abort ingestion: the affected message is
// shown as unavailable and the failure is logged on the security logger.
package message
