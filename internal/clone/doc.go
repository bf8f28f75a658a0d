// Package clone implements the clone registry: named installations of the
// framework on disk, either git checkouts or extracted zip images. Records
// live in the "clones" section of the registry store. Git attributes
// (branch, tag, commit, origin) are read and changed through a
// gitx.Workspace, and mutating git operations refuse image clones and dirty
// working trees unless forced.
//
// A clone directory is recognized by a clonefile.yaml at its root, or by
// bin/ and extensions/ directories. Engines are described by
// bin/engines/<id>/engine.yaml.
package clone
