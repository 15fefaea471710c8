package build

import "context"

// PanicContext is a Context test double that panics on every call. Spec
// §6 calls this out explicitly: "Test harnesses may stub these to
// panic, asserting no build is required" — it is used by resolver tests
// that exercise only wheel-backed packages and want a hard failure if
// the solver ever falls through to a source build unexpectedly.
type PanicContext struct{}

var _ Context = PanicContext{}

func (PanicContext) Resolve(ctx context.Context, requirements []Requirement) ([]Requirement, error) {
	panic("build: unexpected Resolve call; test fixture declared no source builds required")
}

func (PanicContext) Install(ctx context.Context, requirements []Requirement, venv string) error {
	panic("build: unexpected Install call; test fixture declared no source builds required")
}

func (PanicContext) BuildSource(ctx context.Context, sdist, subdirectory, wheelDir, packageID string) (string, error) {
	panic("build: unexpected BuildSource call; test fixture declared no source builds required")
}
