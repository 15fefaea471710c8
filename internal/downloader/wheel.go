package downloader

import (
	"fmt"

	"github.com/pipgtool/pipg/internal/registry"
	"github.com/pipgtool/pipg/internal/tags"
)

// SelectWheel selects the best compatible wheel from a release's file
// listing for the given target tag set, using the same ranking
// internal/tags gives the resolver's candidate provider (spec §4.1
// filter 3/5) so the install path and the resolver agree on which
// file counts as "best" for a platform. Unlike the resolver's
// candidate provider, SelectWheel never falls back to a source
// distribution: the install flow only ever extracts prebuilt wheels.
func SelectWheel(files []registry.FileEntry, target tags.Set) (registry.FileEntry, error) {
	wheels := make([]registry.FileEntry, 0, len(files))

	for _, f := range files {
		if f.PackageType == "bdist_wheel" {
			wheels = append(wheels, f)
		}
	}

	best, ok := tags.BestFile(wheels,
		func(f registry.FileEntry) string { return f.Filename },
		func(f registry.FileEntry) string { return f.PackageType },
		target,
	)
	if !ok {
		return registry.FileEntry{}, fmt.Errorf("no compatible wheel found (tried %d files)", len(files))
	}

	return best, nil
}
