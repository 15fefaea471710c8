package resolver

import "github.com/pipgtool/pipg/internal/pepversion"

// Assignment records one solver decision: the version picked for a
// decision key at a given backtracking level, mirroring golang-dep's
// selection stack (solver.go) but keyed by PubGrub decision keys
// instead of Go import paths.
type Assignment struct {
	Key         string
	Package     pepversion.PackageName
	Extras      pepversion.Extras
	Version     pepversion.Version
	Level       int
	Requirement Requirement
}

// PartialSolution is the append-only decision log the solver's trace
// and final graph-building step read from. The solver itself tracks
// its working state in solveState (solver.go) for cheap backtracking;
// PartialSolution is built once, at the end, as a stable snapshot for
// Trace and for anything downstream that wants the decision order
// rather than just the final map.
type PartialSolution struct {
	decisions []Assignment
}

func newPartialSolution() *PartialSolution {
	return &PartialSolution{}
}

// Decide appends a new decision to the log.
func (p *PartialSolution) Decide(a Assignment) {
	p.decisions = append(p.decisions, a)
}

// Decisions returns the full decision log in the order it was built.
func (p *PartialSolution) Decisions() []Assignment {
	return p.decisions
}

// buildPartialSolution snapshots a completed solveState into a
// PartialSolution ordered by each decision key's first appearance in
// the recorded edges — the order the solver actually visited packages
// in, which the raw decided map (unordered) can't reconstruct.
func buildPartialSolution(st solveState) *PartialSolution {
	sol := newPartialSolution()

	seen := make(map[pepversion.PackageName]bool, len(st.decided))
	level := 0

	record := func(name pepversion.PackageName) {
		if seen[name] {
			return
		}

		c, ok := st.decided[name]
		if !ok {
			return
		}

		seen[name] = true

		reqs := st.requirementsSeen[name]

		var lastReq Requirement
		if n := len(reqs); n > 0 {
			lastReq = reqs[n-1]
		}

		sol.Decide(Assignment{
			Key:         string(name),
			Package:     name,
			Extras:      st.extras[name],
			Version:     c.Version,
			Level:       level,
			Requirement: lastReq,
		})

		level++
	}

	for _, e := range st.edges {
		record(e.to.Name)
	}

	for name := range st.decided {
		record(name)
	}

	return sol
}
