package resolver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pipgtool/pipg/internal/build"
	"github.com/pipgtool/pipg/internal/markers"
	"github.com/pipgtool/pipg/internal/pepversion"
	"github.com/pipgtool/pipg/internal/registry"
)

// Metadata is a candidate's declared dependencies, pruned by marker and
// expanded for one extras selection (spec §4.2).
type Metadata struct {
	Requires       []Requirement
	ProvidesExtras pepversion.Extras
}

// MetadataProvider resolves a candidate's dependencies for a given
// extras selection.
type MetadataProvider interface {
	Dependencies(ctx context.Context, c Candidate, extras pepversion.Extras) (Metadata, error)
}

type rawMetadata struct {
	requires []string
	extras   []string
}

// registryMetadataProvider resolves dependencies exactly in the order
// spec §4.2 specifies: cached wheel METADATA, full wheel METADATA
// fetch, then BuildContext.BuildSource for sdists.
// golang.org/x/sync/singleflight enforces "at most one build per
// (name, version) in flight" (spec §5).
type registryMetadataProvider struct {
	client registry.Client
	build  build.Context
	env    markers.Environment

	cache sync.Map // dist URL -> rawMetadata
	group singleflight.Group
}

func newRegistryMetadataProvider(client registry.Client, b build.Context, env markers.Environment) *registryMetadataProvider {
	return &registryMetadataProvider{client: client, build: b, env: env}
}

var _ MetadataProvider = (*registryMetadataProvider)(nil)

func (p *registryMetadataProvider) Dependencies(ctx context.Context, c Candidate, extras pepversion.Extras) (Metadata, error) {
	raw, err := p.fetch(ctx, c)
	if err != nil {
		return Metadata{}, &UnavailableError{Package: c.Name, Version: c.Version, Err: err}
	}

	return p.expand(raw, extras)
}

func (p *registryMetadataProvider) fetch(ctx context.Context, c Candidate) (rawMetadata, error) {
	if cached, ok := p.cache.Load(c.Dist.URL); ok {
		return cached.(rawMetadata), nil
	}

	v, err, _ := p.group.Do(c.Dist.URL, func() (any, error) {
		if cached, ok := p.cache.Load(c.Dist.URL); ok {
			return cached.(rawMetadata), nil
		}

		var (
			raw rawMetadata
			err error
		)

		if c.Dist.IsWheel {
			raw, err = p.fetchWheelMetadata(ctx, c)
		} else {
			raw, err = p.buildSdistMetadata(ctx, c)
		}

		if err != nil {
			return rawMetadata{}, err
		}

		p.cache.Store(c.Dist.URL, raw)

		return raw, nil
	})
	if err != nil {
		return rawMetadata{}, err
	}

	return v.(rawMetadata), nil
}

func (p *registryMetadataProvider) fetchWheelMetadata(ctx context.Context, c Candidate) (rawMetadata, error) {
	raw, err := p.client.FetchMetadata(ctx, c.Dist.URL)
	if err != nil {
		return rawMetadata{}, fmt.Errorf("fetching metadata for %s %s: %w", c.Name, c.Version, err)
	}

	return parseMetadataBlob(raw), nil
}

func (p *registryMetadataProvider) buildSdistMetadata(ctx context.Context, c Candidate) (rawMetadata, error) {
	packageID := fmt.Sprintf("%s-%s", c.Name, c.Version)

	built, err := p.build.BuildSource(ctx, c.Dist.URL, "", "", packageID)
	if err != nil {
		return rawMetadata{}, fmt.Errorf("building %s: %w", packageID, err)
	}

	raw, err := p.client.FetchMetadata(ctx, built)
	if err != nil {
		return rawMetadata{}, fmt.Errorf("fetching built metadata for %s: %w", packageID, err)
	}

	return parseMetadataBlob(raw), nil
}

// parseMetadataBlob extracts Requires-Dist and Provides-Extra lines
// from a METADATA/PKG-INFO email-header blob.
func parseMetadataBlob(raw []byte) rawMetadata {
	const (
		requiresPrefix = "Requires-Dist: "
		extraPrefix    = "Provides-Extra: "
	)

	var out rawMetadata

	for _, line := range splitLines(string(raw)) {
		switch {
		case len(line) > len(requiresPrefix) && line[:len(requiresPrefix)] == requiresPrefix:
			out.requires = append(out.requires, line[len(requiresPrefix):])
		case len(line) > len(extraPrefix) && line[:len(extraPrefix)] == extraPrefix:
			out.extras = append(out.extras, line[len(extraPrefix):])
		}
	}

	return out
}

func splitLines(s string) []string {
	var lines []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, trimCR(s[start:i]))
			start = i + 1
		}
	}

	if start < len(s) {
		lines = append(lines, trimCR(s[start:]))
	}

	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}

	return s
}

// expand turns raw Requires-Dist strings into Requirements: the
// unconditional dependency set plus, for each requested extra, that
// extra's conditional dependencies (declared in the wheel as markers
// of the form `extra == "name"`). Marker evaluation prunes false-marker
// dependencies using the fixed MarkerEnvironment with extra bound per
// requested extra (spec §3.2, §4.2).
func (p *registryMetadataProvider) expand(raw rawMetadata, extras pepversion.Extras) (Metadata, error) {
	selected := append([]string{""}, extras.Sorted()...)

	var requires []Requirement

	seen := make(map[string]bool)

	for _, extra := range selected {
		for _, r := range raw.requires {
			req, err := ParseRequirement(r)
			if err != nil {
				return Metadata{}, fmt.Errorf("parsing dependency %q: %w", r, err)
			}

			if req.Marker != "" {
				ok, err := markers.Eval(req.Marker, p.env, extra)
				if err != nil {
					return Metadata{}, fmt.Errorf("evaluating marker %q: %w", req.Marker, err)
				}

				if !ok {
					continue
				}
			}

			key := string(req.Name) + "|" + req.Specifier.String() + "|" + req.Marker
			if seen[key] {
				continue
			}

			seen[key] = true

			requires = append(requires, req)
		}
	}

	return Metadata{Requires: requires, ProvidesExtras: pepversion.NewExtras(raw.extras...)}, nil
}
