package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipgtool/pipg/internal/cache"
	"github.com/pipgtool/pipg/internal/downloader"
	"github.com/pipgtool/pipg/internal/installer"
	"github.com/pipgtool/pipg/internal/markers"
	"github.com/pipgtool/pipg/internal/pypi"
	"github.com/pipgtool/pipg/internal/python"
	"github.com/pipgtool/pipg/internal/registry"
	"github.com/pipgtool/pipg/internal/resolver"
	"github.com/pipgtool/pipg/internal/tags"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pipg",
		Short:         "A fast Python package installer",
		Long:          "pipg is a drop-in replacement for pip install that downloads packages concurrently.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	installCmd := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Install Python packages",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runInstall,
	}

	installCmd.Flags().StringP("requirements", "r", "", "Install from requirements file")
	installCmd.Flags().IntP("jobs", "j", 0, "Max concurrent downloads (default: GOMAXPROCS)")
	installCmd.Flags().String("python", "python3", "Python binary to use")
	installCmd.Flags().String("target", "", "Target directory (default: auto-detect site-packages)")
	installCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	installCmd.Flags().Bool("dry-run", false, "Show the plan without downloading or installing")
	installCmd.Flags().Bool("no-deps", false, "Skip dependencies, install only specified packages")
	installCmd.Flags().StringArray("constraint", nil, "Constraint specifier that narrows a package's admissible versions without introducing it (repeatable)")
	installCmd.Flags().StringArray("pin", nil, "Preferred version for a package, used when compatible (repeatable)")
	installCmd.Flags().String("resolution", "highest", "Candidate ordering: highest, lowest, or lowest-direct")
	installCmd.Flags().String("prerelease", "if-necessary", "Pre-release policy: disallow, if-necessary, explicit, or allow")
	installCmd.Flags().String("exclude-newer", "", "Exclude releases uploaded after this RFC3339 timestamp")

	rootCmd.AddCommand(installCmd)

	resolveCmd := &cobra.Command{
		Use:   "resolve [packages...]",
		Short: "Run the dependency resolver and print the resolution graph",
		Long:  "resolve runs only the resolver (no download or install) and prints the resulting graph in the name[extras]==version text form, one package per sorted line.",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runResolve,
	}

	resolveCmd.Flags().StringP("requirements", "r", "", "Read root requirements from a requirements file")
	resolveCmd.Flags().String("python", "python3", "Python binary to use for marker/tag detection")
	resolveCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	resolveCmd.Flags().Bool("no-deps", false, "Skip dependencies, resolve only specified packages")
	resolveCmd.Flags().StringArray("constraint", nil, "Constraint specifier that narrows a package's admissible versions without introducing it (repeatable)")
	resolveCmd.Flags().StringArray("pin", nil, "Preferred version for a package, used when compatible (repeatable)")
	resolveCmd.Flags().String("resolution", "highest", "Candidate ordering: highest, lowest, or lowest-direct")
	resolveCmd.Flags().String("prerelease", "if-necessary", "Pre-release policy: disallow, if-necessary, explicit, or allow")
	resolveCmd.Flags().String("exclude-newer", "", "Exclude releases uploaded after this RFC3339 timestamp")

	rootCmd.AddCommand(resolveCmd)

	return rootCmd.Execute()
}

// installFlags holds parsed CLI flags for the install command.
type installFlags struct {
	reqFile      string
	jobs         int
	pythonBin    string
	targetDir    string
	verbose      bool
	dryRun       bool
	noDeps       bool
	constraints  []string
	pins         []string
	resolution   string
	prerelease   string
	excludeNewer string
}

func parseInstallFlags(cmd *cobra.Command) installFlags {
	reqFile, _ := cmd.Flags().GetString("requirements")
	jobs, _ := cmd.Flags().GetInt("jobs")
	pythonBin, _ := cmd.Flags().GetString("python")
	targetDir, _ := cmd.Flags().GetString("target")
	verbose, _ := cmd.Flags().GetBool("verbose")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noDeps, _ := cmd.Flags().GetBool("no-deps")
	constraints, _ := cmd.Flags().GetStringArray("constraint")
	pins, _ := cmd.Flags().GetStringArray("pin")
	resolution, _ := cmd.Flags().GetString("resolution")
	prerelease, _ := cmd.Flags().GetString("prerelease")
	excludeNewer, _ := cmd.Flags().GetString("exclude-newer")

	return installFlags{
		reqFile:      reqFile,
		jobs:         jobs,
		pythonBin:    pythonBin,
		targetDir:    targetDir,
		verbose:      verbose,
		dryRun:       dryRun,
		noDeps:       noDeps,
		constraints:  constraints,
		pins:         pins,
		resolution:   resolution,
		prerelease:   prerelease,
		excludeNewer: excludeNewer,
	}
}

func runInstall(cmd *cobra.Command, args []string) error {
	start := time.Now()
	flags := parseInstallFlags(cmd)

	requirements, err := collectRequirements(args, flags.reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipg install <pkg>' or 'pipg install -r requirements.txt'")
	}

	logger := newLogger(flags.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := detectEnv(ctx, flags.pythonBin, flags.targetDir, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pypiClient := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger))

	resolved, err := resolveDeps(ctx, requirements, pypiClient, flags, env, logger)
	if err != nil {
		return err
	}

	reg := registry.NewPyPIAdapter(pypiClient, nil)
	target := tags.BuildSet(env.PythonVersion, tags.PlatformFromSysconfig(env.PlatformTag))

	plans, err := selectWheels(ctx, resolved, reg, target, env)
	if err != nil {
		return err
	}

	if flags.dryRun {
		printDryRun(plans)

		return nil
	}

	results, tmpDir, err := downloadPackages(ctx, plans, flags.jobs, httpClient, logger)
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	printDownloadResults(results)

	fmt.Println("\nInstalling...")

	inst := installer.New(env, installer.WithLogger(logger))
	if err := inst.Install(ctx, results); err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}

	fmt.Printf("  ✓ %d packages installed\n", len(results))
	fmt.Printf("\nDone in %.1fs\n", time.Since(start).Seconds())

	return nil
}

// runResolve runs only the resolver (spec §4, "THE CORE") and prints
// the resulting ResolutionGraph in its spec §6 golden-file text form.
// No download or install step runs.
func runResolve(cmd *cobra.Command, args []string) error {
	reqFile, _ := cmd.Flags().GetString("requirements")
	pythonBin, _ := cmd.Flags().GetString("python")
	verbose, _ := cmd.Flags().GetBool("verbose")
	noDeps, _ := cmd.Flags().GetBool("no-deps")
	constraints, _ := cmd.Flags().GetStringArray("constraint")
	pins, _ := cmd.Flags().GetStringArray("pin")
	resolution, _ := cmd.Flags().GetString("resolution")
	prerelease, _ := cmd.Flags().GetString("prerelease")
	excludeNewer, _ := cmd.Flags().GetString("exclude-newer")

	requirements, err := collectRequirements(args, reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipg resolve <pkg>' or 'pipg resolve -r requirements.txt'")
	}

	logger := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := detectEnv(ctx, pythonBin, "", logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pypiClient := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger))

	flags := installFlags{
		verbose:      verbose,
		noDeps:       noDeps,
		constraints:  constraints,
		pins:         pins,
		resolution:   resolution,
		prerelease:   prerelease,
		excludeNewer: excludeNewer,
	}

	resolverSvc, err := newResolverService(pypiClient, flags, env, logger)
	if err != nil {
		return err
	}

	graph, err := resolverSvc.ResolveGraph(ctx, requirements)
	if err != nil {
		return fmt.Errorf("resolving dependencies: %w", err)
	}

	fmt.Print(graph.Text())

	return nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func detectEnv(ctx context.Context, pythonBin, targetDir string, logger *slog.Logger) (*python.Environment, error) {
	pyDetector := python.New(python.WithPythonBin(pythonBin))

	env, err := pyDetector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting Python environment: %w", err)
	}

	if targetDir != "" {
		absTarget, err := filepath.Abs(targetDir)
		if err != nil {
			return nil, fmt.Errorf("resolving target directory: %w", err)
		}

		env.SitePackages = absTarget
	}

	logger.Debug("detected Python environment",
		slog.String("prefix", env.Prefix),
		slog.String("site-packages", env.SitePackages),
		slog.String("platform", env.PlatformTag),
		slog.String("version", env.PythonVersion),
		slog.Bool("venv", env.IsVirtualEnv),
	)

	return env, nil
}

// newResolverService builds a resolver.Service from install/resolve
// CLI flags shared by both the `install` and `resolve` subcommands.
func newResolverService(pypiClient pypi.Client, flags installFlags, env *python.Environment, logger *slog.Logger) (*resolver.Service, error) {
	markerEnv := buildMarkerEnv(env)

	mode, err := parseResolutionMode(flags.resolution)
	if err != nil {
		return nil, err
	}

	pre, err := parsePreReleaseMode(flags.prerelease)
	if err != nil {
		return nil, err
	}

	var excludeNewer *time.Time

	if flags.excludeNewer != "" {
		t, err := time.Parse(time.RFC3339, flags.excludeNewer)
		if err != nil {
			return nil, fmt.Errorf("parsing --exclude-newer %q: %w", flags.excludeNewer, err)
		}

		excludeNewer = &t
	}

	constraints, err := parseRequirementList(flags.constraints)
	if err != nil {
		return nil, fmt.Errorf("parsing --constraint: %w", err)
	}

	preferences, err := parseRequirementList(flags.pins)
	if err != nil {
		return nil, fmt.Errorf("parsing --pin: %w", err)
	}

	return resolver.New(pypiClient,
		resolver.WithNoDeps(flags.noDeps),
		resolver.WithMarkerEnv(markerEnv),
		resolver.WithTags(tags.BuildSet(env.PythonVersion, tags.PlatformFromSysconfig(env.PlatformTag))),
		resolver.WithLogger(logger),
		resolver.WithMode(mode),
		resolver.WithPreRelease(pre),
		resolver.WithExcludeNewer(excludeNewer),
		resolver.WithConstraints(constraints),
		resolver.WithPreferences(preferences),
		resolver.WithTraceEnabled(flags.verbose),
	), nil
}

func resolveDeps(ctx context.Context, requirements []string, pypiClient pypi.Client, flags installFlags, env *python.Environment, logger *slog.Logger) ([]resolver.ResolvedPackage, error) {
	fmt.Println("Resolving dependencies...")

	resolverSvc, err := newResolverService(pypiClient, flags, env, logger)
	if err != nil {
		return nil, err
	}

	resolved, err := resolverSvc.Resolve(ctx, requirements)
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}

	resolvedMap := make(map[string]resolver.ResolvedPackage, len(resolved))
	for _, pkg := range resolved {
		resolvedMap[pkg.Name] = pkg
	}

	rootNames := make([]string, 0, len(requirements))
	for _, r := range requirements {
		req, err := resolver.ParseRequirement(r)
		if err != nil {
			return nil, fmt.Errorf("parsing requirement %q: %w", r, err)
		}

		rootNames = append(rootNames, string(req.Name))
	}

	printDependencyTree(rootNames, resolvedMap)

	return resolved, nil
}

func printDryRun(plans []downloadPlan) {
	fmt.Printf("\nWould download %d packages:\n", len(plans))

	for _, p := range plans {
		fmt.Printf("  %s (%s)\n", p.file.Filename, formatSize(p.file.Size))
	}

	fmt.Println("\nDry run, no changes made.")
}

func printDownloadResults(results []downloader.Result) {
	for _, r := range results {
		suffix := ""
		if r.Cached {
			suffix = " (cached)"
		}

		fmt.Printf("  ✓ %s (%s)%s\n", filepath.Base(r.FilePath), formatSize(r.Size), suffix)
	}
}

type downloadPlan struct {
	pkg  resolver.ResolvedPackage
	file registry.FileEntry
}

// selectWheels finds a compatible wheel for each resolved package by
// listing its files through the same registry.Client contract the
// resolver's candidate provider consumes (spec §6), then ranking them
// with the shared internal/tags compatibility-tag logic.
func selectWheels(ctx context.Context, resolved []resolver.ResolvedPackage, reg registry.Client, target tags.Set, env *python.Environment) ([]downloadPlan, error) {
	var plans []downloadPlan

	for _, pkg := range resolved {
		entries, err := reg.SimpleIndex(ctx, pkg.Name)
		if err != nil {
			return nil, fmt.Errorf("listing files for %s: %w", pkg.Name, err)
		}

		wheel, err := downloader.SelectWheel(filesForVersion(entries, pkg.Version), target)
		if err != nil {
			return nil, fmt.Errorf("no compatible wheel for %s %s (platform: %s, python: cp%s): %w",
				pkg.Name, pkg.Version, tags.PlatformFromSysconfig(env.PlatformTag), env.PythonVersion, err)
		}

		plans = append(plans, downloadPlan{pkg: pkg, file: wheel})
	}

	return plans, nil
}

// filesForVersion narrows a package's full file listing down to the
// one release the solver picked; SimpleIndex flattens every release
// into a single slice, so wheel selection must restrict to the
// resolved version before ranking, the same way the candidate
// provider groups files by version before filtering (internal/resolver/candidate_provider.go).
func filesForVersion(entries []registry.FileEntry, version string) []registry.FileEntry {
	out := make([]registry.FileEntry, 0, len(entries))

	for _, e := range entries {
		_, v, _, err := tags.ParseWheelFilename(e.Filename)
		if err != nil || v != version {
			continue
		}

		out = append(out, e)
	}

	return out
}

// downloadPackages downloads all planned packages concurrently with cache support.
// Caller is responsible for cleaning up tmpDir after installation.
func downloadPackages(ctx context.Context, plans []downloadPlan, jobs int, httpClient *http.Client, logger *slog.Logger) ([]downloader.Result, string, error) {
	tmpDir, err := os.MkdirTemp("", "pipg-downloads-*")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp directory: %w", err)
	}

	requests := buildDownloadRequests(plans)

	workers := runtime.GOMAXPROCS(0)
	if jobs > 0 {
		workers = jobs
	}

	fmt.Printf("\nDownloading %d packages (%d workers)...\n", len(requests), workers)

	dlManager := newDownloader(tmpDir, jobs, httpClient, logger)

	results, err := dlManager.Download(ctx, requests)
	if err != nil {
		_ = os.RemoveAll(tmpDir)

		return nil, "", fmt.Errorf("downloading packages: %w", err)
	}

	return results, tmpDir, nil
}

func buildDownloadRequests(plans []downloadPlan) []downloader.Request {
	requests := make([]downloader.Request, len(plans))
	for i, p := range plans {
		requests[i] = downloader.RequestFromFile(p.pkg.Name, p.pkg.Version, p.file)
	}

	return requests
}

func newDownloader(tmpDir string, jobs int, httpClient *http.Client, logger *slog.Logger) *downloader.Manager {
	wheelCache, err := cache.New(cache.WithLogger(logger))
	if err != nil {
		logger.Debug("cache unavailable, continuing without cache", slog.String("error", err.Error()))
	}

	dlOpts := []downloader.Option{
		downloader.WithHTTPClient(httpClient),
		downloader.WithLogger(logger),
	}

	if wheelCache != nil {
		dlOpts = append(dlOpts, downloader.WithCache(wheelCache))
	}

	if jobs > 0 {
		dlOpts = append(dlOpts, downloader.WithMaxWorkers(jobs))
	}

	return downloader.New(tmpDir, dlOpts...)
}

// collectRequirements merges CLI args and requirements file entries.
func collectRequirements(args []string, reqFile string) ([]string, error) {
	var requirements []string

	requirements = append(requirements, args...)

	if reqFile != "" {
		fileReqs, err := parseRequirementsFile(reqFile)
		if err != nil {
			return nil, err
		}

		requirements = append(requirements, fileReqs...)
	}

	return requirements, nil
}

// parseRequirementsFile reads a pip-compatible requirements file.
// Skips comments, empty lines, and pip options (lines starting with -).
func parseRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var reqs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Strip inline comments.
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		// Skip empty lines and pip options (e.g., --index-url, -e, -c).
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		reqs = append(reqs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return reqs, nil
}

// parseResolutionMode maps the --resolution flag onto the solver's
// candidate-ordering mode (spec §4.1 "Ordering").
func parseResolutionMode(s string) (resolver.ResolutionMode, error) {
	switch strings.ToLower(s) {
	case "", "highest":
		return resolver.Highest, nil
	case "lowest":
		return resolver.Lowest, nil
	case "lowest-direct":
		return resolver.LowestDirect, nil
	default:
		return resolver.Highest, fmt.Errorf("unknown --resolution %q: expected highest, lowest, or lowest-direct", s)
	}
}

// parsePreReleaseMode maps the --prerelease flag onto the solver's
// pre-release admissibility policy (spec §4.1 filter 4).
func parsePreReleaseMode(s string) (resolver.PreReleaseMode, error) {
	switch strings.ToLower(s) {
	case "disallow":
		return resolver.Disallow, nil
	case "", "if-necessary":
		return resolver.IfNecessary, nil
	case "explicit":
		return resolver.Explicit, nil
	case "allow":
		return resolver.Allow, nil
	default:
		return resolver.Disallow, fmt.Errorf("unknown --prerelease %q: expected disallow, if-necessary, explicit, or allow", s)
	}
}

// parseRequirementList parses repeatable --constraint/--pin flag values
// as PEP 508 requirement strings (spec §3 constraints/preferences).
func parseRequirementList(raw []string) ([]resolver.Requirement, error) {
	out := make([]resolver.Requirement, 0, len(raw))

	for _, s := range raw {
		req, err := resolver.ParseRequirement(s)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", s, err)
		}

		out = append(out, req)
	}

	return out, nil
}

// buildMarkerEnv creates a PEP 508 marker environment from the detected Python env.
func buildMarkerEnv(env *python.Environment) markers.Environment {
	pyVer := formatPythonVersion(env.PythonVersion)

	var sysPlatform, osName, platformSystem, platformMachine string

	switch {
	case strings.HasPrefix(env.PlatformTag, "macosx"):
		sysPlatform = "darwin"
		osName = "posix"
		platformSystem = "Darwin"
	case strings.HasPrefix(env.PlatformTag, "linux"):
		sysPlatform = "linux"
		osName = "posix"
		platformSystem = "Linux"
	default:
		sysPlatform = "linux"
		osName = "posix"
		platformSystem = "Linux"
	}

	if parts := strings.Split(env.PlatformTag, "-"); len(parts) > 0 {
		platformMachine = parts[len(parts)-1]
	}

	return markers.Environment{
		PythonVersion:          pyVer,
		PythonFullVersion:      pyVer,
		OSName:                 osName,
		SysPlatform:            sysPlatform,
		PlatformMachine:        platformMachine,
		PlatformPythonImplName: "CPython",
		PlatformSystem:         platformSystem,
		PlatformVersion:        "",
		ImplementationName:     "cpython",
		ImplementationVersion:  pyVer,
	}
}

// formatPythonVersion turns the detector's concatenated "312" form into
// PEP 508's dotted "3.12" form.
func formatPythonVersion(v string) string {
	if len(v) < 2 {
		return v
	}

	return v[:1] + "." + v[1:]
}

// printDependencyTree prints the resolved packages as a dependency tree.
func printDependencyTree(roots []string, resolved map[string]resolver.ResolvedPackage) {
	visited := make(map[string]bool)

	for _, root := range roots {
		pkg, ok := resolved[root]
		if !ok {
			continue
		}

		fmt.Printf("  %s %s\n", pkg.Name, pkg.Version)

		visited[root] = true

		printSubTree(pkg.Dependencies, resolved, "  ", visited)
	}
}

func printSubTree(deps []string, resolved map[string]resolver.ResolvedPackage, prefix string, visited map[string]bool) {
	for i, depName := range deps {
		pkg, ok := resolved[depName]
		if !ok {
			continue
		}

		isLast := i == len(deps)-1

		connector := "├── "
		childPrefix := "│   "

		if isLast {
			connector = "└── "
			childPrefix = "    "
		}

		fmt.Printf("%s%s%s %s\n", prefix, connector, pkg.Name, pkg.Version)

		if !visited[depName] && len(pkg.Dependencies) > 0 {
			visited[depName] = true
			printSubTree(pkg.Dependencies, resolved, prefix+childPrefix, visited)
		}
	}
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%d KB", bytes/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
