package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pipgtool/pipg/internal/pepversion"
)

// prefetchFanout bounds how many packages' candidate lists and lead
// metadata the solver fetches speculatively ahead of the decision that
// actually needs them (spec §5 "Backpressure").
const prefetchFanout = 4

// prefetcher speculatively lists candidates for a batch of
// not-yet-decided packages and warms the metadata provider's cache for
// each one's first candidate while the solver's own in-flight fetch
// completes. The listed candidates themselves are not kept: the solver
// lists them again when it reaches that package. Commits to the working
// solve state stay strictly sequential (solver.go's recursive descent
// owns the only commit path), so this only hides fetch latency — it
// never reorders decisions, and fetch completion order never affects
// the emitted graph. Grounded on internal/downloader/downloader.go's
// errgroup.WithContext + SetLimit pattern.
type prefetcher struct {
	candidates CandidateProvider
	metadata   MetadataProvider
}

func newPrefetcher(candidates CandidateProvider, metadata MetadataProvider) *prefetcher {
	return &prefetcher{candidates: candidates, metadata: metadata}
}

// Warm kicks off bounded concurrent fetches for the given packages'
// first admissible candidate and that candidate's metadata, discarding
// any errors: a failed speculative fetch is simply re-fetched
// synchronously when the solver actually reaches that decision.
func (p *prefetcher) Warm(ctx context.Context, names []pepversion.PackageName) {
	if len(names) == 0 {
		return
	}

	if len(names) > prefetchFanout {
		names = names[:prefetchFanout]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchFanout)

	for _, name := range names {
		g.Go(func() error {
			seq := p.candidates.Candidates(gctx, name)

			c, ok, err := seq.Next(gctx)
			if err != nil || !ok {
				return nil
			}

			_, _ = p.metadata.Dependencies(gctx, c, pepversion.Extras{})

			return nil
		})
	}

	_ = g.Wait()
}
