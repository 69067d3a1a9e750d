package deb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.0-1", "1.0-2", -1},
		{"1.0", "1.0-1", -1},
		// Tilde sorts before everything, including the empty string.
		{"1.0~rc1", "1.0", -1},
		{"1.0~rc1", "1.0~rc2", -1},
		// Epochs dominate the upstream version.
		{"1:0.9", "2.0", 1},
		{"1:1.0", "2:0.1", -1},
		// Mixed alphanumeric segments.
		{"1.0a", "1.0", 1},
		{"1.10", "1.9", 1},
	}
	for _, c := range cases {
		got := CompareVersions(c.a, c.b)
		switch {
		case c.want < 0:
			assert.Negative(t, got, "%s vs %s", c.a, c.b)
		case c.want > 0:
			assert.Positive(t, got, "%s vs %s", c.a, c.b)
		default:
			assert.Zero(t, got, "%s vs %s", c.a, c.b)
		}
	}
}

func TestCompareVersionsUnparseableFallback(t *testing.T) {
	// Lexical fallback keeps sorting total even for garbage.
	assert.Negative(t, CompareVersions("##a", "##b"))
	assert.Zero(t, CompareVersions("##a", "##a"))
}

func TestParseVersion(t *testing.T) {
	_, err := ParseVersion("1:2.10-3ubuntu1")
	assert.NoError(t, err)

	_, err = ParseVersion("not a version !")
	assert.Error(t, err)
}
