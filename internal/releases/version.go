package releases

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions compares two version strings using semver.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
// Handles "v" prefix tolerance (strips leading "v" before parsing).
func CompareVersions(a, b string) (int, error) {
	va, err := parseSemver(a)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", a, err)
	}
	vb, err := parseSemver(b)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

// IsNewer returns true if candidate is newer than current.
func IsNewer(current, candidate string) (bool, error) {
	c, err := CompareVersions(current, candidate)
	if err != nil {
		return false, err
	}
	return c == -1, nil
}

// parseSemver strips a leading "v" and parses the version string.
func parseSemver(version string) (*semver.Version, error) {
	version = strings.TrimPrefix(version, "v")
	return semver.NewVersion(version)
}
