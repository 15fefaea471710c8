// Package build defines the build collaborator the metadata provider
// consumes when a candidate is a source distribution (spec §6 "Build
// context (consumed)"). Build invocation, sandboxing, and reproducible
// builds are explicitly out of scope (spec §1 Non-goals); this package
// only defines the contract and a test double.
package build

import "context"

// Requirement mirrors the minimal shape a build backend pins and
// returns: a package name plus an exact version string. Kept separate
// from resolver.Requirement to avoid a dependency cycle (the resolver
// package depends on build, not the other way around).
type Requirement struct {
	Name    string
	Version string
}

// Context is the build collaborator. Resolve and Install stand in for a
// PEP 517 build backend's build-time dependency resolution and
// installation into a scratch environment; BuildSource performs the
// actual build, yielding a wheel equivalent to one fetched from the
// index.
type Context interface {
	// Resolve pins build-time requirements declared by a source
	// distribution's build backend (pyproject.toml build-system
	// requires).
	Resolve(ctx context.Context, requirements []Requirement) ([]Requirement, error)

	// Install installs the given requirements into the named scratch
	// virtual environment so the build backend can run.
	Install(ctx context.Context, requirements []Requirement, venv string) error

	// BuildSource builds sdist (optionally from subdirectory) into
	// wheelDir, returning the built wheel's filename. packageID
	// identifies the (name, version) pair for logging/locking.
	BuildSource(ctx context.Context, sdist, subdirectory, wheelDir, packageID string) (string, error)
}
