// Package app wires application dependencies for the CLI.
//
// It opens the local store and builds the relay client, the key services
// and the messenger from a config.Config, exposing them on App for commands
// to use.
package app
