// Package commands defines the pulse CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Write the config and create the local identity
//   - fingerprint    Print the identity fingerprint
//   - register       Publish pre-key bundles to the relay
//   - start-session  Establish an X3DH session with a peer
//   - group          Open a group conversation and share its first key
//   - rotate         Rotate the key of a group conversation
//   - send           Encrypt and send a text message
//   - resend         Retry a failed message
//   - recv           Follow the relay for a while and print timelines
//   - read           Mark a conversation read
//   - status         Show the security status of a conversation
//   - verify         Record an out-of-band fingerprint check
//
// # Implementation
//
// The root command loads the config from the home directory and builds the
// app (store, relay client, services) before any subcommand runs, so
// handlers share one store and one set of conversation lanes. init is the
// exception: it runs before a config exists.
package commands
