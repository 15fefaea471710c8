package pepversion

import (
	"fmt"
	"sort"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version wraps a parsed PEP 440 version.
type Version struct {
	raw   string
	inner pep440.Version
}

// Parse parses a PEP 440 version string.
func Parse(raw string) (Version, error) {
	v, err := pep440.Parse(raw)
	if err != nil {
		return Version{}, fmt.Errorf("parsing version %q: %w", raw, err)
	}

	return Version{raw: raw, inner: v}, nil
}

// String returns the original version string.
func (v Version) String() string { return v.raw }

// Compare returns -1, 0, or 1 comparing v to other per PEP 440 ordering.
func (v Version) Compare(other Version) int { return v.inner.Compare(other.inner) }

// GreaterThan reports whether v orders after other.
func (v Version) GreaterThan(other Version) bool { return v.inner.GreaterThan(other.inner) }

// LessThan reports whether v orders before other.
func (v Version) LessThan(other Version) bool { return v.inner.LessThan(other.inner) }

// Equal reports whether v and other are the same version under PEP 440
// equality (which ignores non-significant normalization differences).
func (v Version) Equal(other Version) bool { return v.inner.Equal(other.inner) }

// IsPreRelease reports whether v carries a PEP 440 pre-release segment.
func (v Version) IsPreRelease() bool { return v.inner.IsPreRelease() }

// HasLocal reports whether v carries a PEP 440 local version label
// (the `+...` suffix). Used for the candidate-provider tie-break rule:
// when two candidates compare equal, the one without a local label wins.
func HasLocal(raw string) bool {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '+' {
			return true
		}
	}

	return false
}

// SortDescending sorts versions from highest to lowest, dropping any
// strings that fail to parse as PEP 440 versions.
func SortDescending(raw []string) []Version {
	return sortVersions(raw, true)
}

// SortAscending sorts versions from lowest to highest, dropping any
// strings that fail to parse as PEP 440 versions.
func SortAscending(raw []string) []Version {
	return sortVersions(raw, false)
}

func sortVersions(raw []string, descending bool) []Version {
	out := make([]Version, 0, len(raw))

	for _, r := range raw {
		v, err := Parse(r)
		if err != nil {
			continue
		}

		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].GreaterThan(out[j])
		}

		return out[i].LessThan(out[j])
	})

	return out
}
