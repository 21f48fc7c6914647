// Package relay is the untrusted store-and-forward service between pulse
// clients.
//
// Hub keeps everything in memory: a sequenced envelope log per conversation
// and a queue of published pre-key bundles per user. It implements both
// domain.Transport and domain.Directory, so tests and single-process setups
// can use it directly. Server exposes a Hub over HTTP and Client is the
// matching HTTP implementation of the same two interfaces.
//
// The relay never sees plaintext or private keys; it only stores ciphertext
// and public bundles.
package relay
