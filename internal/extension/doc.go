// Package extension manages installed extensions.
//
// An extension is a directory named <name>.extension (a UI extension that
// contributes commands) or <name>.lib (a library extension). Extensions are
// discovered by scanning an ordered list of search paths: the managed
// extensions directory first, then any user-added paths. Enabled state,
// search paths and catalog sources live in the "extensions" section of the
// user registry.
package extension
