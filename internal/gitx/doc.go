// Package gitx wraps the git binary behind the Workspace interface used by
// the clone and extension registries. Every git failure is returned as a
// Collaborator fault carrying git's own output.
package gitx
