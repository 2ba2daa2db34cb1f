package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPattern(t *testing.T, style MatchStyle, matcher string, templates ...string) *Pattern {
	t.Helper()

	p, err := NewPattern(style, matcher, templates)
	require.NoError(t, err)

	return p
}

func TestResolveRegexWithCaptureGroups(t *testing.T) {
	patterns := Patterns{
		mustPattern(t, MatchRegex, `release-(\d+\.\d+)`, "nixos-$1", "nixpkgs-$1"),
	}

	assert.Equal(t,
		[]string{"nixos-23.11", "nixpkgs-23.11"},
		patterns.Resolve("release-23.11").Sorted(),
	)
}

func TestResolveRegexRequiresFullMatch(t *testing.T) {
	patterns := Patterns{mustPattern(t, MatchRegex, `release-1`, "one")}

	assert.Empty(t, patterns.Resolve("release-10"))
	assert.Empty(t, patterns.Resolve("xrelease-1"))
	assert.Equal(t, []string{"one"}, patterns.Resolve("release-1").Sorted())
}

func TestResolveNamedCaptureGroup(t *testing.T) {
	patterns := Patterns{mustPattern(t, MatchRegex, `staging-(?P<version>.+)`, "staging-next-${version}")}

	assert.Equal(t, []string{"staging-next-23.05"}, patterns.Resolve("staging-23.05").Sorted())
}

func TestResolveExactAndGlob(t *testing.T) {
	patterns := Patterns{
		mustPattern(t, MatchExact, "master", "nixos-unstable", "nixpkgs-unstable"),
		mustPattern(t, MatchGlob, "release-*", "stable"),
	}

	assert.Equal(t, []string{"nixos-unstable", "nixpkgs-unstable"}, patterns.Resolve("master").Sorted())
	assert.Equal(t, []string{"stable"}, patterns.Resolve("release-23.05").Sorted())
	assert.Empty(t, patterns.Resolve("staging"))
}

func TestResolveUnionOfMultiplePatterns(t *testing.T) {
	patterns := Patterns{
		mustPattern(t, MatchGlob, "*", "all"),
		mustPattern(t, MatchExact, "master", "all", "unstable"),
	}

	assert.Equal(t, []string{"all", "unstable"}, patterns.Resolve("master").Sorted())
}

func TestParseCompactNotation(t *testing.T) {
	patterns, err := Parse(`master: nixos-unstable nixpkgs-unstable, release-(\d+\.\d+): nixos-$1`)
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	assert.Equal(t, []string{"nixos-unstable", "nixpkgs-unstable"}, patterns.Resolve("master").Sorted())
	assert.Equal(t, []string{"nixos-23.05"}, patterns.Resolve("release-23.05").Sorted())
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("master nixos-unstable")
	require.Error(t, err)

	_, err = Parse("(: chan")
	require.Error(t, err)

	_, err = Parse("master:")
	require.Error(t, err)
}

func TestNewPatternRejectsUnknownStyle(t *testing.T) {
	_, err := NewPattern("prefix", "master", []string{"x"})
	require.Error(t, err)
}
