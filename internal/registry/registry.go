// Package registry defines the consumed registry-client contract the
// resolver relies on (spec §6 "Registry client (consumed)"): listing a
// package's releases via the PEP 503/691 Simple API shape, and fetching
// the raw bytes backing a candidate's metadata. The HTTP cache and wire
// format behind it are out of scope (spec §1 "Deliberately out of
// scope") — this package only defines the shape the resolver needs and
// adapts the teacher's existing internal/pypi client to it.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pipgtool/pipg/internal/pypi"
)

// FileEntry describes one distribution file for a package release, in
// the shape spec §6 calls `FileEntry{url, filename, upload_time?,
// yanked?, hashes}`.
type FileEntry struct {
	Filename     string
	URL          string
	Size         int64
	UploadTime   *time.Time
	Yanked       bool
	YankedReason string
	PackageType  string // "bdist_wheel" or "sdist"
	SHA256       string
}

// Client is the registry contract the resolver consumes.
type Client interface {
	// SimpleIndex lists every known file for every release of name.
	SimpleIndex(ctx context.Context, name string) ([]FileEntry, error)

	// FetchMetadata returns the raw bytes at url (a wheel or sdist
	// metadata location). Cache-aware implementations serve repeat
	// fetches from the process-wide HTTP cache (spec §5).
	FetchMetadata(ctx context.Context, url string) ([]byte, error)
}

// PyPIAdapter adapts the teacher's JSON-API-backed pypi.Client to the
// registry.Client contract the resolver consumes.
//
// The PyPI JSON API embeds a version's full Requires-Dist list inline
// (GetPackageVersion), unlike a PEP 503/691 Simple API index, which only
// lists files and requires a separate METADATA download. So FetchMetadata
// here does not download the dist file: it looks up the (name, version)
// a dist locator was indexed under during SimpleIndex, requests that
// version's JSON document, and renders its Requires-Dist list as a
// synthesized METADATA blob. fetchRaw is only reached for a locator
// SimpleIndex never indexed (a sdist built on the fly by BuildContext,
// for instance).
type PyPIAdapter struct {
	client   pypi.Client
	fetchRaw func(ctx context.Context, url string) ([]byte, error)
	index    sync.Map // locator -> distLocation
}

type distLocation struct {
	name    string
	version string
}

// NewPyPIAdapter builds a registry.Client backed by a pypi.Client. fetch
// performs the raw HTTP GET used for wheel/sdist bytes; pass nil to use
// the default http.Client-backed fetch (see downloader.go for the
// download logic this mirrors).
func NewPyPIAdapter(client pypi.Client, fetch func(ctx context.Context, url string) ([]byte, error)) *PyPIAdapter {
	a := &PyPIAdapter{client: client, fetchRaw: fetch}
	if a.fetchRaw == nil {
		a.fetchRaw = defaultFetch
	}

	return a
}

var _ Client = (*PyPIAdapter)(nil)

// SimpleIndex lists all files across all releases of name by flattening
// the PyPI JSON API's per-version release map.
func (a *PyPIAdapter) SimpleIndex(ctx context.Context, name string) ([]FileEntry, error) {
	info, err := a.client.GetPackage(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("listing releases for %s: %w", name, err)
	}

	var entries []FileEntry

	for version, files := range info.Releases {
		for _, f := range files {
			e := fileEntryFromURL(name, version, f)
			a.index.Store(e.URL, distLocation{name: name, version: version})
			entries = append(entries, e)
		}
	}

	// A package whose current release has no `releases` map entries
	// (the teacher's fallback path in resolver.availableVersions) still
	// has its top-level `urls`.
	if len(entries) == 0 {
		for _, f := range info.URLs {
			e := fileEntryFromURL(name, info.Info.Version, f)
			a.index.Store(e.URL, distLocation{name: name, version: info.Info.Version})
			entries = append(entries, e)
		}
	}

	return entries, nil
}

func fileEntryFromURL(name, version string, f pypi.URL) FileEntry {
	packageType := f.PackageType
	if packageType == "" {
		packageType = "sdist"
		if strings.HasSuffix(f.Filename, ".whl") {
			packageType = "bdist_wheel"
		}
	}

	// locator falls back to name/version/filename when the source has no
	// real download URL (e.g. a Simple-API index entry or a test fixture),
	// so it stays a unique key for the (name, version) it was indexed
	// under.
	locator := f.URL
	if locator == "" {
		locator = name + "/" + version + "/" + f.Filename
	}

	return FileEntry{
		Filename:     f.Filename,
		URL:          locator,
		Size:         f.Size,
		UploadTime:   f.UploadTime(),
		Yanked:       f.Yanked,
		YankedReason: f.YankedReason,
		PackageType:  packageType,
		SHA256:       f.Digests.SHA256,
	}
}

// FetchMetadata returns the Requires-Dist lines for the (name,
// version) url was indexed under in SimpleIndex, synthesized as a
// METADATA-style blob. Falls back to fetchRaw for any locator
// SimpleIndex never saw.
func (a *PyPIAdapter) FetchMetadata(ctx context.Context, url string) ([]byte, error) {
	if loc, ok := a.index.Load(url); ok {
		l := loc.(distLocation)

		info, err := a.client.GetPackageVersion(ctx, l.name, l.version)
		if err != nil {
			return nil, fmt.Errorf("fetching metadata for %s %s: %w", l.name, l.version, err)
		}

		return synthesizeMetadata(info.Info), nil
	}

	return a.fetchRaw(ctx, url)
}

func synthesizeMetadata(info pypi.Info) []byte {
	var b strings.Builder

	for _, r := range info.RequiresDist {
		b.WriteString("Requires-Dist: ")
		b.WriteString(r)
		b.WriteString("\n")
	}

	return []byte(b.String())
}

func defaultFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}
