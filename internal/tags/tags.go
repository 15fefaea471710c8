// Package tags ranks PEP 425/PEP 600 wheel compatibility tags against a
// target platform's priority-ordered tag set, and picks the best
// compatible wheel for a release. Generalized from the teacher's
// internal/downloader/wheel.go so both the candidate provider and the
// installer can share it.
package tags

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is a single PEP 425 compatibility tag: {python}-{abi}-{platform}.
type Tag struct {
	Interpreter string // e.g. "cp312", "py3"
	ABI         string // e.g. "cp312", "abi3", "none"
	Platform    string // e.g. "manylinux_2_17_x86_64", "any"
}

// Set is a priority-ordered list of target tags, most preferred first.
type Set []Tag

// File is the subset of release-file metadata tag ranking needs.
type File struct {
	Filename    string
	PackageType string // "bdist_wheel" or "sdist"
}

// ParseWheelFilename parses a wheel filename into name, version, and tag.
// Format: {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl
func ParseWheelFilename(filename string) (name, version string, tag Tag, err error) {
	filename = strings.TrimSuffix(filename, ".whl")

	parts := strings.Split(filename, "-")
	if len(parts) < 5 {
		return "", "", Tag{}, fmt.Errorf("invalid wheel filename %q: expected at least 5 parts", filename)
	}

	tag = Tag{
		Interpreter: parts[len(parts)-3],
		ABI:         parts[len(parts)-2],
		Platform:    parts[len(parts)-1],
	}

	name = parts[0]
	version = parts[1]

	return name, version, tag, nil
}

// Rank returns the best (lowest) priority index in target that a wheel
// tag matches, and whether any match was found.
func Rank(tag Tag, target Set) (int, bool) {
	best := -1

	for i, t := range target {
		if matches(tag, t) {
			best = i

			break
		}
	}

	return best, best >= 0
}

// BestFile selects the file with the best (lowest-priority-index)
// compatible wheel tag among files. Source distributions are always
// platform-compatible but rank below any compatible wheel (spec §4.1
// filter 3: "otherwise the source distribution").
func BestFile[F any](files []F, filename func(F) string, packageType func(F) string, target Set) (F, bool) {
	var (
		best     F
		bestRank = len(target)
		found    bool
		sdist    F
		hasSdist bool
	)

	for _, f := range files {
		switch packageType(f) {
		case "bdist_wheel":
			_, _, tag, err := ParseWheelFilename(filename(f))
			if err != nil {
				continue
			}

			rank, ok := Rank(tag, target)
			if !ok {
				continue
			}

			if rank < bestRank {
				bestRank = rank
				best = f
				found = true
			}
		case "sdist":
			sdist = f
			hasSdist = true
		}
	}

	if found {
		return best, true
	}

	if hasSdist {
		return sdist, true
	}

	return best, false
}

func matches(wheel, target Tag) bool {
	return fieldMatches(wheel.Interpreter, target.Interpreter) &&
		fieldMatches(wheel.ABI, target.ABI) &&
		fieldMatches(wheel.Platform, target.Platform)
}

// fieldMatches checks whether a wheel tag field (possibly a compound
// value like "py2.py3") contains the target value.
func fieldMatches(wheelField, targetValue string) bool {
	for _, w := range strings.Split(wheelField, ".") {
		if w == targetValue {
			return true
		}
	}

	return false
}

// BuildSet generates the priority-ordered compatibility tag set for a
// CPython interpreter on the given platform. cmd/pipg/main.go builds its
// target set with it for both resolution and wheel selection.
func BuildSet(pyVersion, platform string) Set {
	cp := "cp" + pyVersion
	pyMajor := "py" + pyVersion[:1]

	var set Set

	platforms := expandPlatform(platform)

	for _, plat := range platforms {
		set = append(set, Tag{Interpreter: cp, ABI: cp, Platform: plat})
	}

	for _, plat := range platforms {
		set = append(set, Tag{Interpreter: cp, ABI: "abi3", Platform: plat})
	}

	for _, plat := range platforms {
		set = append(set, Tag{Interpreter: cp, ABI: "none", Platform: plat})
	}

	for _, plat := range platforms {
		set = append(set, Tag{Interpreter: pyMajor, ABI: "none", Platform: plat})
	}

	set = append(set, Tag{Interpreter: cp, ABI: "none", Platform: "any"})
	set = append(set, Tag{Interpreter: pyMajor, ABI: "none", Platform: "any"})

	return set
}

// expandPlatform expands a platform tag into a priority-ordered list
// including manylinux variants (Linux) and lower macOS version variants.
func expandPlatform(platform string) []string {
	platforms := []string{platform}

	switch {
	case strings.HasPrefix(platform, "linux_"):
		arch := strings.TrimPrefix(platform, "linux_")

		for _, ml := range []string{
			"manylinux_2_35", "manylinux_2_34", "manylinux_2_31",
			"manylinux_2_28", "manylinux_2_17", "manylinux2014",
		} {
			platforms = append(platforms, ml+"_"+arch)
		}
	case strings.HasPrefix(platform, "macosx_"):
		parts := strings.SplitN(platform, "_", 4)
		if len(parts) == 4 {
			arch := parts[3]
			major, _ := strconv.Atoi(parts[1])

			platforms = append(platforms, fmt.Sprintf("macosx_%s_%s_universal2", parts[1], parts[2]))

			minMajor := 10
			if arch == "arm64" {
				minMajor = 11
			}

			for v := major - 1; v >= minMajor; v-- {
				minor := "0"
				if v == 10 {
					minor = "9"
				}

				platforms = append(platforms,
					fmt.Sprintf("macosx_%d_%s_%s", v, minor, arch),
					fmt.Sprintf("macosx_%d_%s_universal2", v, minor),
				)
			}
		}
	}

	return platforms
}

// PlatformFromSysconfig converts a sysconfig platform tag to wheel
// format: "macosx-14.0-arm64" -> "macosx_14_0_arm64".
func PlatformFromSysconfig(sysTag string) string {
	s := strings.ReplaceAll(sysTag, "-", "_")

	return strings.ReplaceAll(s, ".", "_")
}
