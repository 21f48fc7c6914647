// Package store persists pulse state in a single bbolt database.
//
// Records are CBOR encoded. The local identity is additionally sealed under
// a passphrase-derived key before it touches disk. Each store type wraps a
// shared *DB and implements one of the domain storage interfaces.
package store
