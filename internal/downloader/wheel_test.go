package downloader_test

import (
	"testing"

	"github.com/pipgtool/pipg/internal/downloader"
	"github.com/pipgtool/pipg/internal/registry"
	"github.com/pipgtool/pipg/internal/tags"
)

func targetSet(tagList ...tags.Tag) tags.Set {
	return tags.Set(tagList)
}

func TestSelectWheel(t *testing.T) {
	files := []registry.FileEntry{
		{Filename: "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl", PackageType: "bdist_wheel", URL: "https://example.com/manylinux.whl"},
		{Filename: "pkg-1.0.0-py3-none-any.whl", PackageType: "bdist_wheel", URL: "https://example.com/pure.whl"},
		{Filename: "pkg-1.0.0.tar.gz", PackageType: "sdist", URL: "https://example.com/sdist.tar.gz"},
	}

	target := targetSet(
		tags.Tag{Interpreter: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		tags.Tag{Interpreter: "cp312", ABI: "none", Platform: "any"},
		tags.Tag{Interpreter: "py3", ABI: "none", Platform: "any"},
	)

	got, err := downloader.SelectWheel(files, target)
	if err != nil {
		t.Fatalf("SelectWheel() error: %v", err)
	}

	if got.URL != "https://example.com/manylinux.whl" {
		t.Errorf("SelectWheel() selected %q, want manylinux wheel", got.Filename)
	}
}

func TestSelectWheelPurePython(t *testing.T) {
	files := []registry.FileEntry{
		{Filename: "pkg-1.0.0-py3-none-any.whl", PackageType: "bdist_wheel", URL: "https://example.com/pure.whl"},
	}

	target := targetSet(
		tags.Tag{Interpreter: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		tags.Tag{Interpreter: "py3", ABI: "none", Platform: "any"},
	)

	got, err := downloader.SelectWheel(files, target)
	if err != nil {
		t.Fatalf("SelectWheel() error: %v", err)
	}

	if got.URL != "https://example.com/pure.whl" {
		t.Errorf("SelectWheel() selected %q, want pure python wheel", got.Filename)
	}
}

func TestSelectWheelCompoundTag(t *testing.T) {
	files := []registry.FileEntry{
		{Filename: "six-1.16.0-py2.py3-none-any.whl", PackageType: "bdist_wheel", URL: "https://example.com/six.whl"},
	}

	target := targetSet(tags.Tag{Interpreter: "py3", ABI: "none", Platform: "any"})

	got, err := downloader.SelectWheel(files, target)
	if err != nil {
		t.Fatalf("SelectWheel() error: %v", err)
	}

	if got.URL != "https://example.com/six.whl" {
		t.Errorf("SelectWheel() should match compound tag py2.py3 against py3")
	}
}

func TestSelectWheelNoMatch(t *testing.T) {
	files := []registry.FileEntry{
		{Filename: "pkg-1.0.0-cp311-cp311-win_amd64.whl", PackageType: "bdist_wheel"},
		{Filename: "pkg-1.0.0.tar.gz", PackageType: "sdist"},
	}

	target := targetSet(
		tags.Tag{Interpreter: "cp312", ABI: "cp312", Platform: "manylinux_2_17_x86_64"},
		tags.Tag{Interpreter: "py3", ABI: "none", Platform: "any"},
	)

	_, err := downloader.SelectWheel(files, target)
	if err == nil {
		t.Fatal("SelectWheel() expected error for no compatible wheel, got nil")
	}
}

func TestSelectWheelSkipsSdist(t *testing.T) {
	files := []registry.FileEntry{
		{Filename: "pkg-1.0.0.tar.gz", PackageType: "sdist"},
	}

	target := targetSet(tags.Tag{Interpreter: "py3", ABI: "none", Platform: "any"})

	_, err := downloader.SelectWheel(files, target)
	if err == nil {
		t.Fatal("SelectWheel() should not select sdist, expected error")
	}
}
