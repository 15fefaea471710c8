package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pipgtool/pipg/internal/pepversion"
	"github.com/pipgtool/pipg/internal/registry"
	"github.com/pipgtool/pipg/internal/tags"
)

// CandidateProvider lists candidates for a package name, lazily and
// restartably.
type CandidateProvider interface {
	Candidates(ctx context.Context, name pepversion.PackageName) CandidateSequence
}

// CandidateSequence is a lazy, restartable iterator over one package's
// admissible candidates, already ordered per the active ResolutionMode.
type CandidateSequence interface {
	// Next advances the sequence. ok is false once exhausted.
	Next(ctx context.Context) (Candidate, bool, error)
	// Restart rewinds the sequence, re-filtering with a different
	// PreReleaseMode (used by the IfNecessary per-package restart).
	Restart(mode PreReleaseMode)
}

// prereleaseOverrider lets the solver admit prereleases for one
// specific package after a stable-only pass proved unsatisfiable
// (spec §4.3's "per package" IfNecessary restart), without widening
// the CandidateProvider interface every test double must implement.
type prereleaseOverrider interface {
	AllowPreRelease(name pepversion.PackageName)
}

// pypiCandidateProvider implements the admissibility filters of spec
// §4.1 in order, short-circuiting, against a registry.Client, plus the
// tie-break rule (no local label ranks above one with a local label,
// for otherwise-equal versions).
type pypiCandidateProvider struct {
	client       registry.Client
	target       tags.Set
	excludeNewer *time.Time
	mode         ResolutionMode
	rootPre      PreReleaseMode
	rootNames    map[pepversion.PackageName]bool

	perPackagePre map[pepversion.PackageName]PreReleaseMode
}

func newPyPICandidateProvider(
	client registry.Client,
	target tags.Set,
	excludeNewer *time.Time,
	mode ResolutionMode,
	pre PreReleaseMode,
	rootNames map[pepversion.PackageName]bool,
) *pypiCandidateProvider {
	return &pypiCandidateProvider{
		client:        client,
		target:        target,
		excludeNewer:  excludeNewer,
		mode:          mode,
		rootPre:       pre,
		rootNames:     rootNames,
		perPackagePre: make(map[pepversion.PackageName]PreReleaseMode),
	}
}

var _ CandidateProvider = (*pypiCandidateProvider)(nil)
var _ prereleaseOverrider = (*pypiCandidateProvider)(nil)

func (p *pypiCandidateProvider) AllowPreRelease(name pepversion.PackageName) {
	p.perPackagePre[name] = Allow
}

func (p *pypiCandidateProvider) Candidates(ctx context.Context, name pepversion.PackageName) CandidateSequence {
	pre := p.rootPre
	if override, ok := p.perPackagePre[name]; ok {
		pre = override
	}

	effectiveMode := p.mode
	if p.mode == LowestDirect {
		if p.rootNames[name] {
			effectiveMode = Lowest
		} else {
			effectiveMode = Highest
		}
	}

	return &pypiCandidateSequence{
		provider: p,
		name:     name,
		pre:      pre,
		mode:     effectiveMode,
	}
}

// pypiCandidateSequence lazily loads registry.Client.SimpleIndex once,
// groups files by version, applies the admissibility filters, orders
// per mode, then yields one Candidate per Next call.
type pypiCandidateSequence struct {
	provider *pypiCandidateProvider
	name     pepversion.PackageName
	pre      PreReleaseMode
	mode     ResolutionMode

	loaded     bool
	candidates []Candidate
	cursor     int
}

func (s *pypiCandidateSequence) Restart(mode PreReleaseMode) {
	s.pre = mode
	s.loaded = false
	s.candidates = nil
	s.cursor = 0
}

func (s *pypiCandidateSequence) Next(ctx context.Context) (Candidate, bool, error) {
	if !s.loaded {
		if err := s.load(ctx); err != nil {
			return Candidate{}, false, err
		}
	}

	if s.cursor >= len(s.candidates) {
		return Candidate{}, false, nil
	}

	c := s.candidates[s.cursor]
	s.cursor++

	return c, true, nil
}

func (s *pypiCandidateSequence) load(ctx context.Context) error {
	entries, err := s.provider.client.SimpleIndex(ctx, string(s.name))
	if err != nil {
		return fmt.Errorf("listing %s: %w", s.name, err)
	}

	byVersion := make(map[string][]registry.FileEntry)

	for _, e := range entries {
		_, version, _, parseErr := tags.ParseWheelFilename(e.Filename)
		if parseErr != nil {
			_, version = sdistNameVersion(e.Filename)
		}

		if version == "" {
			continue
		}

		byVersion[version] = append(byVersion[version], e)
	}

	candidates := make([]Candidate, 0, len(byVersion))

	for raw, files := range byVersion {
		v, err := pepversion.Parse(raw)
		if err != nil {
			continue // filter 1: unparseable version is never admissible
		}

		if !s.admitsPreRelease(v) {
			continue // filter 4
		}

		eligible := s.filterExcludeNewer(files) // filter 2, per file, before filter 3/5 pick a "best" one

		dist, ok := s.bestDistribution(eligible)
		if !ok {
			continue // filter 3: no platform-compatible file left at all
		}

		candidates = append(candidates, Candidate{Name: s.name, Version: v, Dist: dist})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j], s.mode)
	})

	s.candidates = candidates
	s.loaded = true

	return nil
}

func (s *pypiCandidateSequence) admitsPreRelease(v pepversion.Version) bool {
	if !v.IsPreRelease() {
		return true
	}

	switch s.pre {
	case Allow, Explicit:
		return true
	default:
		// Disallow, and IfNecessary on its un-overridden first pass,
		// both exclude pre-releases: IfNecessary only admits one for a
		// given package once AllowPreRelease has flipped this sequence's
		// pre to Allow via the solver's per-package restart (spec §4.3
		// "Pre-release IfNecessary interplay").
		return false
	}
}

// filterExcludeNewer drops every file uploaded after the cutoff, and
// every file with no recorded upload time at all (spec §4.1 filter 2:
// "Files with no upload time are treated as post-cutoff and dropped").
// This must run before bestDistribution picks a single "best" file per
// version (filters 3+5), so a version whose best-tag-ranked wheel is
// out of window still falls back to an in-window sdist instead of the
// whole version being dropped because the wrong file was chosen first.
func (s *pypiCandidateSequence) filterExcludeNewer(files []registry.FileEntry) []registry.FileEntry {
	if s.provider.excludeNewer == nil {
		return files
	}

	out := make([]registry.FileEntry, 0, len(files))

	for _, f := range files {
		if f.UploadTime == nil || f.UploadTime.After(*s.provider.excludeNewer) {
			continue
		}

		out = append(out, f)
	}

	return out
}

// bestDistribution picks the best wheel for the target tag set, falling
// back to an sdist, per spec §4.1 filter 3.
func (s *pypiCandidateSequence) bestDistribution(files []registry.FileEntry) (Distribution, bool) {
	best, ok := tags.BestFile(files,
		func(f registry.FileEntry) string { return f.Filename },
		func(f registry.FileEntry) string { return f.PackageType },
		s.provider.target,
	)
	if !ok {
		return Distribution{}, false
	}

	return Distribution{
		IsWheel:      best.PackageType == "bdist_wheel",
		URL:          best.URL,
		Filename:     best.Filename,
		UploadTime:   best.UploadTime,
		Yanked:       best.Yanked,
		YankedReason: best.YankedReason,
		SHA256:       best.SHA256,
	}, true
}

// candidateLess orders two candidates per mode, breaking ties so a
// version with no local label ranks above one with a local label.
func candidateLess(a, b Candidate, mode ResolutionMode) bool {
	if a.Version.Equal(b.Version) {
		return !pepversion.HasLocal(a.Version.String()) && pepversion.HasLocal(b.Version.String())
	}

	if mode == Lowest || mode == LowestDirect {
		return a.Version.LessThan(b.Version)
	}

	return a.Version.GreaterThan(b.Version)
}

// sdistNameVersion splits an sdist filename's {name}-{version} stem; a
// sdist filename carries no compatibility tags to parse from.
func sdistNameVersion(filename string) (name, version string) {
	base := filename

	for _, suffix := range []string{".tar.gz", ".zip", ".tar.bz2"} {
		if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
			base = base[:len(base)-len(suffix)]
			break
		}
	}

	idx := -1

	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '-' {
			idx = i
			break
		}
	}

	if idx < 0 {
		return base, ""
	}

	return base[:idx], base[idx+1:]
}
