// Package keyring keeps the versioned symmetric keys of group conversations.
package keyring
