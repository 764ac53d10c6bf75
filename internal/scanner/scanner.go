// Package scanner walks a project tree and produces the model.File records
// that seed the ingest pipeline: a parallel walk bounded by a semaphore, a
// dotfile allowlist, and a content-hash cache to avoid rehashing unchanged
// files across runs.
package scanner

import (
	"codeintel/internal/logging"
	"codeintel/internal/model"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// allowedDotDirs lists the dotfile directories worth scanning despite the
// leading dot (CI config, editor config); everything else under a dot
// directory is noise. .git and .codeintel are always excluded regardless
// of this map.
var allowedDotDirs = map[string]bool{
	".github":   true,
	".vscode":   true,
	".circleci": true,
	".config":   true,
	".git":      false,
	".codeintel": false,
}

// Config controls which files ScanDirectory visits.
type Config struct {
	Include      []string // doublestar glob patterns; empty means "all"
	Exclude      []string // doublestar glob patterns, checked before Include
	MaxFileBytes int64    // files larger than this are skipped; 0 means no limit
	Concurrency  int      // worker semaphore size; defaults to 20
}

// DefaultConfig uses a semaphore of 20, no glob filtering, and excludes
// the usual vendor/build directories.
func DefaultConfig() Config {
	return Config{
		Exclude: []string{
			"**/node_modules/**", "**/vendor/**", "**/dist/**", "**/build/**",
			"**/.next/**", "**/target/**", "**/bin/**", "**/obj/**",
			"**/.terraform/**", "**/.venv/**", "**/.cache/**",
		},
		Concurrency: 20,
	}
}

// Scanner walks a directory tree and hashes each file it visits.
type Scanner struct {
	cfg   Config
	cache *FileCache
}

// New creates a Scanner backed by a persistent hash cache rooted at root.
func New(cfg Config, root string) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	return &Scanner{cfg: cfg, cache: NewFileCache(root)}
}

// Result is the outcome of one ScanDirectory pass.
type Result struct {
	Files          []model.File
	DirectoryCount int
	SkippedDirs    int
	CacheHits      int
	CacheMisses    int
}

// ScanDirectory walks root, hashing every file that survives the
// include/exclude filters and the dotfile allowlist. Context cancellation
// is checked per directory entry so a scan can unwind mid-walk.
func (s *Scanner) ScanDirectory(ctx context.Context, root string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryScanner, "ScanDirectory")
	defer func() {
		if err := s.cache.Save(); err != nil {
			logging.Get(logging.CategoryScanner).Error("save file cache: %v", err)
		}
	}()

	result := &Result{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Concurrency)

	// When root is a git worktree, restrict the walk to HEAD-tracked paths
	// so build output and other .gitignore'd noise never needs its own
	// entry in Config.Exclude. Falls back to the plain walk below when
	// root isn't a git repository or has no commits yet.
	var gitTracked map[string]bool
	if tracked, ok := GitAwareFiles(root); ok {
		gitTracked = make(map[string]bool, len(tracked))
		for _, p := range tracked {
			gitTracked[p] = true
		}
	}

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			logging.Get(logging.CategoryScanner).Warn("walk error at %s: %v", path, err)
			return err
		}

		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && name != "." {
				allow, known := allowedDotDirs[name]
				if !known || !allow {
					mu.Lock()
					result.SkippedDirs++
					mu.Unlock()
					return filepath.SkipDir
				}
			}
			mu.Lock()
			result.DirectoryCount++
			mu.Unlock()
			return nil
		}

		if !s.included(root, path) {
			return nil
		}
		if gitTracked != nil {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil && !gitTracked[filepath.ToSlash(rel)] {
				return nil
			}
		}
		if s.cfg.MaxFileBytes > 0 && info.Size() > s.cfg.MaxFileBytes {
			logging.Get(logging.CategoryScanner).Warn("skipping oversized file: %s (%d bytes)", path, info.Size())
			return nil
		}

		wg.Add(1)
		go func(path string, info os.FileInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			hash, hit := s.cache.Get(path, info)
			if !hit {
				h, err := hashFile(path)
				if err != nil {
					logging.Get(logging.CategoryScanner).Warn("skipping file (hash error): %s - %v", path, err)
					return
				}
				hash = h
				s.cache.Update(path, info, hash)
			}

			f := model.File{
				Path:         path,
				ContentHash:  hash,
				Size:         info.Size(),
				LastModified: info.ModTime(),
				Language:     detectLanguage(path),
			}

			mu.Lock()
			if hit {
				result.CacheHits++
			} else {
				result.CacheMisses++
			}
			result.Files = append(result.Files, f)
			mu.Unlock()
		}(path, info)
		return nil
	})

	wg.Wait()
	elapsed := timer.Stop()
	logging.Get(logging.CategoryScanner).Info("scan complete: %d files, %d dirs, cache hits=%d misses=%d, took %s",
		len(result.Files), result.DirectoryCount, result.CacheHits, result.CacheMisses, elapsed)
	return result, walkErr
}

func (s *Scanner) included(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range s.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(s.cfg.Include) == 0 {
		return true
	}
	for _, pattern := range s.cfg.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var extLanguage = map[string]model.Language{
	".go":    model.LangGo,
	".py":    model.LangPython,
	".js":    model.LangJavaScript,
	".jsx":   model.LangJavaScript,
	".ts":    model.LangTypeScript,
	".tsx":   model.LangTypeScript,
	".rs":    model.LangRust,
	".java":  model.LangJava,
	".cpp":   model.LangCPP,
	".cc":    model.LangCPP,
	".hpp":   model.LangCPP,
	".c":     model.LangCPP,
	".h":     model.LangCPP,
	".cs":    model.LangCSharp,
}

func detectLanguage(path string) model.Language {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extLanguage[ext]; ok {
		return lang
	}
	return model.LangUnknown
}

// IsTestFile reports whether path looks like a test file by per-language
// file-naming heuristics.
func IsTestFile(path string) bool {
	base := filepath.Base(path)
	dir := filepath.Dir(path)

	if strings.HasSuffix(path, "_test.go") {
		return true
	}
	if strings.HasSuffix(path, "_test.py") || strings.HasPrefix(base, "test_") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == "tests" || part == "test" || part == "__tests__" {
			ext := filepath.Ext(path)
			if ext == ".py" || ext == ".js" || ext == ".ts" || ext == ".tsx" || ext == ".rs" {
				return true
			}
		}
	}
	if strings.HasSuffix(path, ".test.js") || strings.HasSuffix(path, ".test.ts") ||
		strings.HasSuffix(path, ".spec.js") || strings.HasSuffix(path, ".spec.ts") ||
		strings.HasSuffix(path, ".test.tsx") || strings.HasSuffix(path, ".spec.tsx") {
		return true
	}
	if strings.HasSuffix(path, "Test.java") || strings.HasSuffix(path, "Tests.java") {
		return true
	}
	if strings.Contains(dir, "tests") && strings.HasSuffix(path, ".rs") {
		return true
	}
	return false
}
