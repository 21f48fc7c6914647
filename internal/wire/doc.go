// Package wire holds the byte-level encodings shared by clients: the CBOR
// tagged encoding of message payloads sealed inside ciphertexts, the JSON
// envelope exchanged with the relay, and the associated data that binds a
// ciphertext to its routing fields.
package wire
