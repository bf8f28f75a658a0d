// Package runner executes a command script inside a host instance.
//
// A run resolves the host year from the target models (or takes it
// explicitly), looks up the clone and engine attached to that year, finds
// the command script, and writes a disposable execution environment under
// the runs directory: a manifest describing the run, a journal that makes
// the host load the manifest, and the log path the host writes to. The host
// is then launched against the journal.
//
// Resolution failures are returned before anything is written. A failed
// launch still returns the environment so callers can report what ran.
package runner
