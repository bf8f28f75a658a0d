// Package host knows which versions of the host application exist, which
// are installed on this machine, and which are running.
//
// Supported builds come from an embedded catalog (products.yaml). Installed
// products are found by scanning the configured install roots for
// "Revit <year>" directories that contain the host executable. Running
// instances are listed through a ProcessLister so tests can substitute one.
package host
