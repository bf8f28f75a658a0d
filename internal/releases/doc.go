// Package releases lists published framework releases from the GitHub API.
package releases
