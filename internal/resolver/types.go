// Package resolver implements the dependency resolver: a PubGrub-style
// conflict-driven solver that takes a Manifest of requirements,
// constraints, and preferences, queries a registry for candidates,
// lazily fetches metadata, and emits a deterministic ResolutionGraph.
package resolver

import (
	"time"

	"github.com/pipgtool/pipg/internal/pepversion"
)

// ResolutionMode controls candidate ordering (spec §4.1 "Ordering").
type ResolutionMode int

const (
	// Highest orders candidates by descending version (the default).
	Highest ResolutionMode = iota
	// Lowest orders candidates by ascending version for every package.
	Lowest
	// LowestDirect orders ascending for packages named directly in the
	// root requirements, descending for every transitive package.
	LowestDirect
)

func (m ResolutionMode) String() string {
	switch m {
	case Highest:
		return "highest"
	case Lowest:
		return "lowest"
	case LowestDirect:
		return "lowest-direct"
	default:
		return "unknown"
	}
}

// PreReleaseMode controls pre-release admissibility (spec §4.1 filter 4).
type PreReleaseMode int

const (
	// Disallow removes all pre-releases.
	Disallow PreReleaseMode = iota
	// IfNecessary defers pre-releases to a second pass, restarted only
	// for packages whose stable admissible set proved empty.
	IfNecessary
	// Explicit admits pre-releases only for packages whose root-or-
	// derived specifier syntactically mentions a pre-release bound.
	Explicit
	// Allow admits all pre-releases unconditionally.
	Allow
)

func (m PreReleaseMode) String() string {
	switch m {
	case Disallow:
		return "disallow"
	case IfNecessary:
		return "if-necessary"
	case Explicit:
		return "explicit"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// ResolutionOptions configures a single resolve call (spec §3).
type ResolutionOptions struct {
	Mode         ResolutionMode
	PreRelease   PreReleaseMode
	ExcludeNewer *time.Time
}

// Requirement is `(PackageName, Extras, Specifier, Marker?)` (spec §3).
// Sourced either from user input (Manifest.Root) or from a package's
// declared dependencies (metadata provider output).
type Requirement struct {
	Name      pepversion.PackageName
	Extras    pepversion.Extras
	Specifier pepversion.SpecifierSet
	Marker    string
}

// Manifest is the solver's input bundle (spec §3).
type Manifest struct {
	Root        []Requirement
	Constraints []Requirement
	Preferences []Requirement
	Project     *Requirement
}

// Distribution is a tagged union over a candidate's backing file: a
// wheel (with compatibility tags) or a source distribution (always
// platform-compatible, per spec §4.1 filter 3).
type Distribution struct {
	IsWheel      bool
	URL          string
	Filename     string
	UploadTime   *time.Time
	Yanked       bool
	YankedReason string
	SHA256       string
}

// Candidate is `(PackageName, Version, distribution)` (spec §3).
type Candidate struct {
	Name    pepversion.PackageName
	Version pepversion.Version
	Dist    Distribution
}
