package gates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/afero"
)

// changeSource says where a change list came from.
type changeSource string

const (
	sourceGit   changeSource = "git"
	sourceMtime changeSource = "mtime"
)

var skipDirs = map[string]bool{
	".git":         true,
	".fama":        true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// changedFiles lists files touched since a point in time. In a git
// repository that is the dirty worktree plus every file in commits made
// since then; otherwise it falls back to modification times.
func changedFiles(ctx context.Context, fs afero.Fs, dir string, since time.Time) ([]string, changeSource, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			files, werr := modifiedSince(ctx, fs, dir, since)
			return files, sourceMtime, werr
		}
		return nil, sourceGit, err
	}
	files, err := gitChanges(ctx, repo, since)
	return files, sourceGit, err
}

func gitChanges(ctx context.Context, repo *git.Repository, since time.Time) ([]string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	root := wt.Filesystem.Root()
	set := make(map[string]bool)

	status, err := wt.Status()
	if err != nil {
		return nil, err
	}
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		if st.Worktree == git.Deleted || st.Staging == git.Deleted {
			continue
		}
		set[filepath.Join(root, path)] = true
	}

	iter, err := repo.Log(&git.LogOptions{Since: &since})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return sortedKeys(set), nil
		}
		return nil, err
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := c.Stats()
		if err != nil {
			return err
		}
		for _, s := range stats {
			set[filepath.Join(root, s.Name)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedKeys(set), nil
}

func modifiedSince(ctx context.Context, fs afero.Fs, dir string, since time.Time) ([]string, error) {
	var files []string
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			if path != dir && skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info.ModTime().After(since) {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return files, err
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// defaultTestPatterns match common test file conventions across languages.
var defaultTestPatterns = []string{
	"_test.go",
	".test.",
	".spec.",
	"test_*.py",
	"/test/",
	"/tests/",
	"__tests__/",
}

// isTestFile matches glob patterns against the base name and plain
// patterns as substrings of the slash-separated path.
func isTestFile(path string, patterns []string) bool {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, p := range patterns {
		if strings.ContainsAny(p, "*?[") {
			if ok, _ := filepath.Match(p, base); ok {
				return true
			}
			continue
		}
		if strings.Contains(slashed, p) {
			return true
		}
	}
	return false
}
