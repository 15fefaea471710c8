package resolver

import (
	"fmt"
	"strings"

	"github.com/pipgtool/pipg/internal/pepversion"
)

// ParseRequirement parses a PEP 508 requirement string.
//
// Supported formats (generalized from the teacher's ParseRequirement,
// which discarded extras; this version keeps them as a real Extras
// set and a proper intersectable SpecifierSet instead of a raw string):
//
//	"flask"
//	"flask>=3.0"
//	"flask>=3.0,<4.0"
//	"flask[colorama]>=3.0"
//	"flask (>=3.0)"
//	"importlib-metadata>=3.6.0; python_version < \"3.10\""
func ParseRequirement(s string) (Requirement, error) {
	marker := ""

	parts := strings.SplitN(s, ";", 2)
	nameSpec := strings.TrimSpace(parts[0])

	if len(parts) > 1 {
		marker = strings.TrimSpace(parts[1])
	}

	var extras pepversion.Extras

	if idx := strings.Index(nameSpec, "["); idx >= 0 {
		if endIdx := strings.Index(nameSpec, "]"); endIdx > idx {
			raw := nameSpec[idx+1 : endIdx]
			extras = pepversion.NewExtras(strings.Split(raw, ",")...)
			nameSpec = nameSpec[:idx] + nameSpec[endIdx+1:]
		}
	}

	// Strip parenthesized specifier: package (>=1.0)
	nameSpec = strings.NewReplacer("(", "", ")", "").Replace(nameSpec)
	nameSpec = strings.TrimSpace(nameSpec)

	specStart := strings.IndexAny(nameSpec, "><=!~")
	name := nameSpec
	specifierRaw := ""

	if specStart >= 0 {
		name = strings.TrimSpace(nameSpec[:specStart])
		specifierRaw = strings.TrimSpace(nameSpec[specStart:])
	}

	specifier, err := pepversion.ParseSpecifierSet(specifierRaw)
	if err != nil {
		return Requirement{}, fmt.Errorf("parsing requirement %q: %w", s, err)
	}

	return Requirement{
		Name:      pepversion.NormalizeName(name),
		Extras:    extras,
		Specifier: specifier,
		Marker:    marker,
	}, nil
}
