// Package session establishes pairwise X3DH sessions and owns their
// lifecycle.
//
// A peer has at most one active session. Starting or accepting a new one
// supersedes the old session, which stays decryptable until its in-flight
// messages are acknowledged or the grace window passes.
package session
