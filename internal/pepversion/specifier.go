package pepversion

import (
	"fmt"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// SpecifierSet is a PEP 440 specifier: a comma-joined set of predicates
// (==, !=, <, <=, >, >=, ~=, ===) interpreted as the intersection of the
// version subsets each predicate admits. An empty SpecifierSet admits
// every version.
type SpecifierSet struct {
	clauses []string // individual predicate clauses, e.g. ">=1.0"
	specs   pep440.Specifiers
}

// Any is the specifier set that admits every version.
var Any = SpecifierSet{}

// ParseSpecifierSet parses a comma-joined PEP 440 specifier string.
// An empty or all-whitespace string parses to Any.
func ParseSpecifierSet(raw string) (SpecifierSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Any, nil
	}

	clauses := splitClauses(raw)

	specs, err := pep440.NewSpecifiers(raw)
	if err != nil {
		return SpecifierSet{}, fmt.Errorf("parsing specifier %q: %w", raw, err)
	}

	return SpecifierSet{clauses: clauses, specs: specs}, nil
}

// splitClauses splits a comma-joined specifier string into its individual
// predicate clauses, trimming whitespace around each.
func splitClauses(raw string) []string {
	parts := strings.Split(raw, ",")
	clauses := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			clauses = append(clauses, p)
		}
	}

	return clauses
}

// Check reports whether v satisfies every clause in the set.
func (s SpecifierSet) Check(v Version) bool {
	if len(s.clauses) == 0 {
		return true
	}

	return s.specs.Check(v.inner)
}

// IsAny reports whether the set admits every version (no clauses).
func (s SpecifierSet) IsAny() bool { return len(s.clauses) == 0 }

// String renders the specifier set back to its comma-joined form.
func (s SpecifierSet) String() string {
	return strings.Join(s.clauses, ",")
}

// Intersect returns the specifier set admitting versions that satisfy
// both s and other. Intersection is implemented by concatenating the
// distinct clauses of both sets; PEP 440 specifiers are already an AND
// of their clauses, so concatenation is the correct algebraic operation.
func (s SpecifierSet) Intersect(other SpecifierSet) (SpecifierSet, error) {
	if s.IsAny() {
		return other, nil
	}

	if other.IsAny() {
		return s, nil
	}

	seen := make(map[string]struct{}, len(s.clauses)+len(other.clauses))
	merged := make([]string, 0, len(s.clauses)+len(other.clauses))

	for _, c := range append(append([]string{}, s.clauses...), other.clauses...) {
		if _, ok := seen[c]; ok {
			continue
		}

		seen[c] = struct{}{}

		merged = append(merged, c)
	}

	return ParseSpecifierSet(strings.Join(merged, ","))
}

// MentionsPreRelease reports whether any clause's version bound is
// itself a pre-release, e.g. ">=1.0.0rc1". Used by PreReleaseMode:
// Explicit, which admits pre-releases only for packages whose root-or-
// derived specifier syntactically mentions one.
func (s SpecifierSet) MentionsPreRelease() bool {
	for _, clause := range s.clauses {
		_, verPart, ok := splitClause(clause)
		if !ok {
			continue
		}

		if v, err := Parse(verPart); err == nil && v.IsPreRelease() {
			return true
		}
	}

	return false
}

// IsExactPin reports whether the set is a single `==` clause with no
// wildcard trailer (".*"), and if so returns the pinned version.
func (s SpecifierSet) IsExactPin() (Version, bool) {
	if len(s.clauses) != 1 {
		return Version{}, false
	}

	op, verPart, ok := splitClause(s.clauses[0])
	if !ok || op != "==" {
		return Version{}, false
	}

	if strings.HasSuffix(verPart, ".*") {
		return Version{}, false
	}

	v, err := Parse(verPart)
	if err != nil {
		return Version{}, false
	}

	return v, true
}

// splitClause splits a single specifier clause into its operator and
// version parts, e.g. ">=1.0.0" -> (">=", "1.0.0", true).
func splitClause(clause string) (op, version string, ok bool) {
	ops := []string{"===", "~=", "==", "!=", ">=", "<=", ">", "<"}

	for _, o := range ops {
		if strings.HasPrefix(clause, o) {
			return o, strings.TrimSpace(clause[len(o):]), true
		}
	}

	return "", "", false
}
