package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanDirectoryFindsFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "util.py", "def f(): pass\n")
	writeFile(t, dir, "vendor/skip.go", "package vendor\n")

	s := New(DefaultConfig(), dir)
	result, err := s.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)

	var paths []string
	for _, f := range result.Files {
		paths = append(paths, filepath.Base(f.Path))
	}
	assert.Contains(t, paths, "main.go")
	assert.Contains(t, paths, "util.py")
	assert.NotContains(t, paths, "skip.go")
}

func TestScanDirectoryCachesHashes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	s := New(DefaultConfig(), dir)
	first, err := s.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, first.Files, 1)
	assert.Equal(t, 0, first.CacheHits)

	s2 := New(DefaultConfig(), dir)
	second, err := s2.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, second.CacheHits)
	assert.Equal(t, first.Files[0].ContentHash, second.Files[0].ContentHash)
}

func TestScanDirectoryRespectsDotAllowlist(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".github/workflows/ci.yml", "name: ci\n")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, dir, ".codeintel/cache/manifest.json", "{}")

	s := New(DefaultConfig(), dir)
	result, err := s.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)

	var paths []string
	for _, f := range result.Files {
		paths = append(paths, f.Path)
	}
	found := false
	for _, p := range paths {
		if filepath.Base(p) == "ci.yml" {
			found = true
		}
		assert.NotContains(t, p, ".git"+string(filepath.Separator)+"HEAD")
	}
	assert.True(t, found, "expected .github file to be scanned")
}

func TestScanDirectoryCancellation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, dir, filepath.Join("pkg", string(rune('a'+i%26))+".go"), "package pkg\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(DefaultConfig(), dir)
	_, err := s.ScanDirectory(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanDirectoryRestrictsToGitTrackedFiles(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	writeFile(t, dir, "tracked.go", "package a\n")
	writeFile(t, dir, "untracked.go", "package a\n")

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("tracked.go")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	s := New(DefaultConfig(), dir)
	result, err := s.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)

	var paths []string
	for _, f := range result.Files {
		paths = append(paths, filepath.Base(f.Path))
	}
	assert.Contains(t, paths, "tracked.go")
	assert.NotContains(t, paths, "untracked.go")
}

func TestIsTestFile(t *testing.T) {
	assert.True(t, IsTestFile("foo_test.go"))
	assert.True(t, IsTestFile("test_foo.py"))
	assert.True(t, IsTestFile("foo.test.ts"))
	assert.True(t, IsTestFile("FooTest.java"))
	assert.False(t, IsTestFile("foo.go"))
}
