// Package userdata resolves the ~/.rvtx directory layout (registry file,
// default clone and extension roots, caches) and the machine-wide all-users
// root. It handles initialization, per-year cache clearing, and the health
// checks behind the doctor command.
package userdata
