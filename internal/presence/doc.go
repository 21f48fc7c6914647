// Package presence tracks ephemeral, time-bounded conversation state: who is
// typing and who is sharing a live location. Entries expire on their own;
// nothing here is persisted.
package presence
