// Package store persists the rvtx registry: clones, extension search paths
// and sources, extension state, and host attachments. The registry is a TOML
// file of named sections whose values are strings, string lists or string
// maps. Saves go through a temp file and a rename so a crash mid-write leaves
// the previous file intact. A store opened ReadOnly rejects every write with
// a PermissionDenied error instead of silently dropping it.
package store
