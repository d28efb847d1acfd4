// Package app wires a loaded job configuration to the registry, writers and
// notifiers and runs it. It does not know about the command line.
package app
