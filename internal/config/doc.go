// Package config manages user-level settings stored at ~/.rvtx/config.yaml:
// the git binary, host install roots, where run environments are created,
// and the default extension catalog. Registry data (clones, extensions,
// attachments) lives in package store, not here.
package config
