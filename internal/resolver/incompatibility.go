package resolver

import (
	"fmt"

	"golang.org/x/xerrors"

	"github.com/pipgtool/pipg/internal/pepversion"
)

// IncompatibilityCause explains why an Incompatibility was derived.
type IncompatibilityCause interface {
	isCause()
}

// RootCause marks the synthetic incompatibility seeded for the root
// requirements.
type RootCause struct{}

func (RootCause) isCause() {}

// DependencyCause marks an incompatibility derived from a package
// declaring a dependency on another.
type DependencyCause struct {
	Parent Candidate
	Child  Requirement
}

func (DependencyCause) isCause() {}

// ConflictCause marks an incompatibility derived by resolving a
// conflict between two others (full CDCL clause learning). Kept as a
// named cause for the vocabulary's sake; this solver's simplified
// backtracking (see DESIGN.md) does not currently construct one, since
// it resolves conflicts by retrying the previous decision rather than
// learning a new clause.
type ConflictCause struct {
	Left, Right *Incompatibility
}

func (ConflictCause) isCause() {}

// MergeConflictCause marks two specifier sets for the same package
// that, combined, admit no version.
type MergeConflictCause struct {
	Package     pepversion.PackageName
	Left, Right pepversion.SpecifierSet
}

func (MergeConflictCause) isCause() {}

// PinConflictCause marks an already-decided package whose pinned
// version stops satisfying a newly merged constraint.
type PinConflictCause struct {
	Package pepversion.PackageName
	Pinned  pepversion.Version
	Set     pepversion.SpecifierSet
}

func (PinConflictCause) isCause() {}

// UnavailableCause marks a candidate whose metadata could not be
// fetched or built.
type UnavailableCause struct {
	Candidate Candidate
	Err       error
}

func (UnavailableCause) isCause() {}

// NoVersionCause marks a package for which no candidate satisfies its
// accumulated constraints.
type NoVersionCause struct {
	Package pepversion.PackageName
	Set     pepversion.SpecifierSet
}

func (NoVersionCause) isCause() {}

// Incompatibility is a set of Terms that cannot all hold at once,
// together with the derivation that produced it.
type Incompatibility struct {
	Terms []Term
	Cause IncompatibilityCause
}

func (i *Incompatibility) String() string {
	if len(i.Terms) == 0 {
		return "<empty>"
	}

	s := i.Terms[0].String()
	for _, t := range i.Terms[1:] {
		s += " and " + t.String()
	}

	return s
}

// Explain renders the derivation in the "because X requires Y and Z
// forbids Y" style used in NoSolutionError messages.
func (i *Incompatibility) Explain() string {
	switch c := i.Cause.(type) {
	case RootCause:
		return "no version of the root requirements satisfies " + i.String()
	case DependencyCause:
		return fmt.Sprintf("%s %s requires %s", c.Parent.Name, c.Parent.Version, c.Child.Name)
	case ConflictCause:
		return fmt.Sprintf("because %s and %s", c.Left.String(), c.Right.String())
	case MergeConflictCause:
		return fmt.Sprintf("%s requires both %s and %s, which admit no common version",
			c.Package, c.Left.String(), c.Right.String())
	case PinConflictCause:
		return fmt.Sprintf("%s is already resolved to %s, which does not satisfy %s",
			c.Package, c.Pinned, c.Set.String())
	case UnavailableCause:
		return fmt.Sprintf("%s %s is unavailable: %v", c.Candidate.Name, c.Candidate.Version, c.Err)
	case NoVersionCause:
		spec := c.Set.String()
		if spec == "" {
			spec = "*"
		}

		return fmt.Sprintf("no version of %s matching %s could be found", c.Package, spec)
	default:
		return i.String()
	}
}

// NoSolutionError is returned when the solver exhausts every candidate
// without finding an assignment that satisfies every incompatibility.
type NoSolutionError struct {
	Root *Incompatibility
}

func (e *NoSolutionError) Error() string {
	return e.wrap().Error()
}

// Unwrap exposes the underlying candidate/metadata-provider failure (if
// the no-solution chain bottomed out on one) so errors.Is/errors.As can
// reach it through this error, rather than the derivation message being
// a dead end.
func (e *NoSolutionError) Unwrap() error {
	if e.Root == nil {
		return nil
	}

	if cause, ok := e.Root.Cause.(UnavailableCause); ok {
		return cause.Err
	}

	return nil
}

// wrap builds the xerrors value backing Error() and Unwrap(): when the
// chain bottoms out on an UnavailableCause, %w threads that error
// through (exercising xerrors' frame-preserving wrap, not just its
// formatting), so callers keep the ability to unwrap to the original
// fetch/build failure instead of only seeing the flattened message.
func (e *NoSolutionError) wrap() error {
	if e.Root == nil {
		return xerrors.New("no solution: dependencies could not be satisfied")
	}

	if cause, ok := e.Root.Cause.(UnavailableCause); ok {
		return xerrors.Errorf("no solution: %s %s is unavailable: %w", cause.Candidate.Name, cause.Candidate.Version, cause.Err)
	}

	return xerrors.Errorf("no solution: %s", e.Root.Explain())
}

// UnavailableError wraps a candidate/metadata-provider failure for one
// specific candidate (spec §4.2 "Failure modes"): a missing or broken
// distribution becomes an incompatibility, not a fatal resolver error,
// unless it makes every candidate for a package unavailable.
type UnavailableError struct {
	Package pepversion.PackageName
	Version pepversion.Version
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %s unavailable: %v", e.Package, e.Version, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
