package resolver

import "github.com/pipgtool/pipg/internal/pepversion"

// Term is a signed constraint on one decision key: it asserts that the
// key's selected version either falls inside (Positive) or outside
// (!Positive) Set. Vocabulary surveyed from the PubGrub shape in
// other_examples' contriboss-pubgrub-go and cri-o pubgrub-solver
// vendor copy.
type Term struct {
	Package  pepversion.PackageName
	Extra    string // "" for the bare package decision key
	Positive bool
	Set      pepversion.SpecifierSet
}

func (t Term) String() string {
	verb := "requires"
	if !t.Positive {
		verb = "forbids"
	}

	spec := t.Set.String()
	if spec == "" {
		spec = "*"
	}

	if t.Extra != "" {
		return string(t.Package) + "[" + t.Extra + "] " + verb + " " + spec
	}

	return string(t.Package) + " " + verb + " " + spec
}
