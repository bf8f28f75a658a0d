// Package platform provides the few OS-specific operations rvtx needs:
// permission bits that are a no-op on Windows, and detecting whether the
// process runs elevated, which all-users attachments require.
package platform
