package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pipgtool/pipg/internal/build"
	"github.com/pipgtool/pipg/internal/markers"
	"github.com/pipgtool/pipg/internal/pepversion"
	"github.com/pipgtool/pipg/internal/pypi"
	"github.com/pipgtool/pipg/internal/registry"
	"github.com/pipgtool/pipg/internal/tags"
)

// Resolver is the flat-list compatibility view the install flow
// consumes, kept so cmd/pipg/main.go's install command keeps working
// in shape while the solver underneath it was rebuilt around
// ResolutionGraph (see Engine.Solve).
type Resolver interface {
	Resolve(ctx context.Context, requirements []string) ([]ResolvedPackage, error)
}

// ResolvedPackage is one installable package: a name, version, and the
// normalized names of its direct dependencies.
type ResolvedPackage struct {
	Name         string
	Version      string
	Dependencies []string
}

// defaultTags is a minimal, permissive wheel-compatibility set (pure
// Python wheels plus sdist fallback) used when no WithTags override is
// supplied. cmd/pipg/main.go overrides this with the detected
// interpreter's real tags via tags.BuildSet.
var defaultTags = tags.Set{
	{Interpreter: "py3", ABI: "none", Platform: "any"},
}

// Option configures a Service.
type Option func(*Service)

// WithNoDeps disables dependency resolution; only root packages are resolved.
func WithNoDeps(noDeps bool) Option {
	return func(s *Service) {
		s.noDeps = noDeps
	}
}

// WithMarkerEnv sets the environment for evaluating PEP 508 markers.
func WithMarkerEnv(env markers.Environment) Option {
	return func(s *Service) {
		s.env = env
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTags overrides the target wheel-compatibility tag set.
func WithTags(t tags.Set) Option {
	return func(s *Service) {
		if len(t) > 0 {
			s.tags = t
		}
	}
}

// WithMode sets the candidate ordering mode.
func WithMode(mode ResolutionMode) Option {
	return func(s *Service) {
		s.mode = mode
	}
}

// WithPreRelease sets the pre-release admissibility policy.
func WithPreRelease(mode PreReleaseMode) Option {
	return func(s *Service) {
		s.prerelease = mode
	}
}

// WithExcludeNewer filters out any candidate uploaded after cutoff.
func WithExcludeNewer(cutoff *time.Time) Option {
	return func(s *Service) {
		s.excludeNewer = cutoff
	}
}

// WithBuildContext sets the build collaborator used for sdist
// metadata. Defaults to build.PanicContext{}, so a resolve over
// wheel-only fixtures fails loudly if a source build is ever actually
// attempted.
func WithBuildContext(b build.Context) Option {
	return func(s *Service) {
		if b != nil {
			s.build = b
		}
	}
}

// WithConstraints sets the Manifest's constraints (spec §3): specifiers
// that narrow a package's admissible versions without introducing it
// into the graph on their own.
func WithConstraints(reqs []Requirement) Option {
	return func(s *Service) {
		s.constraints = reqs
	}
}

// WithPreferences sets the Manifest's preferences (spec §3): typically
// exact pins that bias selection when compatible and are silently
// ignored otherwise.
func WithPreferences(reqs []Requirement) Option {
	return func(s *Service) {
		s.preferences = reqs
	}
}

// WithTraceEnabled enables Debug-level solver step tracing (spec §5
// "Observability"), surfaced through the injected logger. Typically
// tied to the CLI's --verbose flag.
func WithTraceEnabled(enabled bool) Option {
	return func(s *Service) {
		s.trace = enabled
	}
}

// Service resolves package dependencies via the PubGrub-style Engine.
type Service struct {
	client       pypi.Client
	noDeps       bool
	env          markers.Environment
	logger       *slog.Logger
	tags         tags.Set
	mode         ResolutionMode
	prerelease   PreReleaseMode
	excludeNewer *time.Time
	build        build.Context
	constraints  []Requirement
	preferences  []Requirement
	trace        bool
}

// compile-time proof that Service implements Resolver.
var _ Resolver = (*Service)(nil)

// New creates a new dependency resolver with the given PyPI client.
func New(client pypi.Client, opts ...Option) *Service {
	s := &Service{
		client: client,
		logger: slog.Default(),
		tags:   defaultTags,
		build:  build.PanicContext{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Resolve parses requirements as PEP 508 root requirements, runs the
// solver engine, and flattens the resulting graph back into the
// teacher's original ResolvedPackage shape.
func (s *Service) Resolve(ctx context.Context, requirements []string) ([]ResolvedPackage, error) {
	graph, err := s.ResolveGraph(ctx, requirements)
	if err != nil {
		return nil, err
	}

	return graphToResolvedPackages(graph), nil
}

// ResolveGraph runs the solver and returns the full ResolutionGraph
// (spec §4.4), for callers that need the graph itself rather than the
// flattened install-plan view — e.g. the CLI's `resolve` subcommand,
// which prints the spec §6 text form directly.
func (s *Service) ResolveGraph(ctx context.Context, requirements []string) (*ResolutionGraph, error) {
	roots := make([]Requirement, 0, len(requirements))

	for _, r := range requirements {
		req, err := ParseRequirement(r)
		if err != nil {
			return nil, fmt.Errorf("parsing requirement %q: %w", r, err)
		}

		roots = append(roots, req)
	}

	rootNames := make(map[pepversion.PackageName]bool, len(roots))
	for _, r := range roots {
		rootNames[r.Name] = true
	}

	adapter := registry.NewPyPIAdapter(s.client, nil)
	candidates := newPyPICandidateProvider(adapter, s.tags, s.excludeNewer, s.mode, s.prerelease, rootNames)

	var metadata MetadataProvider
	if s.noDeps {
		metadata = noDepsMetadataProvider{}
	} else {
		metadata = newRegistryMetadataProvider(adapter, s.build, s.env)
	}

	engine := NewEngine(candidates, metadata, ResolutionOptions{
		Mode:         s.mode,
		PreRelease:   s.prerelease,
		ExcludeNewer: s.excludeNewer,
	}, WithEngineLogger(s.logger), WithTrace(s.trace))

	return engine.Solve(ctx, Manifest{
		Root:        roots,
		Constraints: s.constraints,
		Preferences: s.preferences,
	})
}

// noDepsMetadataProvider backs WithNoDeps(true): no package's
// dependencies are ever expanded, so the solver only decides the root
// requirements themselves.
type noDepsMetadataProvider struct{}

func (noDepsMetadataProvider) Dependencies(context.Context, Candidate, pepversion.Extras) (Metadata, error) {
	return Metadata{}, nil
}

func graphToResolvedPackages(g *ResolutionGraph) []ResolvedPackage {
	childrenOf := make(map[pepversion.PackageName]map[string]bool)

	for _, e := range g.Edges {
		if e.From == "" {
			continue
		}

		if childrenOf[e.From] == nil {
			childrenOf[e.From] = make(map[string]bool)
		}

		childrenOf[e.From][string(e.To)] = true
	}

	out := make([]ResolvedPackage, 0, len(g.Nodes))

	for _, n := range g.Nodes {
		var deps []string

		for d := range childrenOf[n.Name] {
			deps = append(deps, d)
		}

		sort.Strings(deps)

		out = append(out, ResolvedPackage{
			Name:         string(n.Name),
			Version:      n.Version.String(),
			Dependencies: deps,
		})
	}

	return out
}
