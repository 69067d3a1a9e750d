package deb

import (
	"fmt"

	version "github.com/knqyf263/go-deb-version"
)

// ParseVersion validates a version string against the Debian
// [epoch:]upstream[-revision] format.
func ParseVersion(v string) (version.Version, error) {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return version.Version{}, fmt.Errorf("invalid debian version %q: %w", v, err)
	}
	return parsed, nil
}

// CompareVersions orders two version strings under Debian comparison rules
// (epoch first, then upstream, then revision). It returns a negative value
// when a sorts before b, zero when equal, positive otherwise. Unparseable
// versions fall back to lexical ordering so that sorting remains total; the
// ingest stage rejects such versions before they reach any index.
func CompareVersions(a, b string) int {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return va.Compare(vb)
}
