// Package model reads metadata out of host document files (.rvt, .rfa,
// .rte, .rft).
//
// Documents are OLE compound files. The BasicFileInfo stream holds a
// UTF-16 text block with the build, worksharing and save-path records; the
// PartAtom stream holds an Atom XML description with the family category and
// project information parameters. Files saved before structured build
// records existed yield a nil Product and the raw build line.
package model
