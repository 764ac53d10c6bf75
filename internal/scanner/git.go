package scanner

import (
	"codeintel/internal/logging"

	"github.com/go-git/go-git/v5"
)

// GitAwareFiles lists every path tracked in root's HEAD commit. ScanDirectory
// can intersect this against its own walk to skip .gitignore'd build output
// without needing a copy of the ignore rules in Config.Exclude. Returns
// ok=false when root is not a git repository or has no commits yet, in
// which case the caller falls back to a plain walk.
func GitAwareFiles(root string) (paths []string, ok bool) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, false
	}
	head, err := repo.Head()
	if err != nil {
		return nil, false
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		logging.Get(logging.CategoryScanner).Warn("resolve HEAD commit: %v", err)
		return nil, false
	}
	tree, err := commit.Tree()
	if err != nil {
		logging.Get(logging.CategoryScanner).Warn("resolve HEAD tree: %v", err)
		return nil, false
	}

	walker := tree.Files()
	defer walker.Close()
	for {
		f, err := walker.Next()
		if err != nil {
			break
		}
		paths = append(paths, f.Name)
	}
	return paths, true
}
