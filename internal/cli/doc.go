// Package cli turns command-line arguments into an app.Config. Invalid
// flags and values are reported as ExitError with the exit code the
// process should use.
package cli
