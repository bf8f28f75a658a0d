// Package cli defines the Cobra command tree for the rvtx CLI. Each file in
// this package registers one top-level command (clones, extensions, attach,
// run, etc.) with the root command. Command implementations delegate to
// internal packages for business logic and only handle flag parsing, I/O
// formatting, and exit status mapping.
package cli
