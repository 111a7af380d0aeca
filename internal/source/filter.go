// Package source lists and reads the files of a repository, either through
// the GitHub API or from a checkout on disk.
package source

import (
	"context"
	"path"
	"strings"

	"github.com/seanblong/reviewrag/pkg/models"
)

// DefaultMaxBlobBytes is the largest blob the fetchers will return.
const DefaultMaxBlobBytes = 1 << 20

// Source is what the index sync engine crawls.
type Source interface {
	// ListFiles returns every indexable file of the branch. Failures are
	// logged and produce an empty or partial list.
	ListFiles(ctx context.Context, owner, repo, branch string) []models.RepoFile
	// FetchBlob returns the content of file, or false when it is too large
	// or cannot be read.
	FetchBlob(ctx context.Context, owner, repo string, file models.RepoFile) ([]byte, bool)
}

// Filter decides which paths are indexed.
type Filter struct {
	// Extensions is the allow-list of file suffixes, including the dot.
	Extensions []string
	// Ignore holds substrings; a path containing any of them is skipped.
	Ignore []string
}

// DefaultFilter covers common source languages and skips dependency and
// build output directories.
func DefaultFilter() Filter {
	return Filter{
		Extensions: []string{
			".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".cpp", ".c", ".go",
			".rs", ".rb", ".php", ".swift", ".kt", ".cs", ".md",
		},
		Ignore: []string{
			"node_modules", "dist", "build", ".git", "coverage", ".next",
			"package-lock.json", "yarn.lock", "vendor", "__pycache__", ".venv",
		},
	}
}

// Ignored reports whether p contains one of the ignore patterns.
func (f Filter) Ignored(p string) bool {
	for _, pat := range f.Ignore {
		if pat != "" && strings.Contains(p, pat) {
			return true
		}
	}
	return false
}

// Accept reports whether the file at p should be indexed.
func (f Filter) Accept(p string) bool {
	if f.Ignored(p) {
		return false
	}
	if len(f.Extensions) == 0 {
		return true
	}
	name := path.Base(p)
	for _, ext := range f.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// FileType is the last dot-separated part of the file name, or the whole
// name when it has no dot.
func FileType(p string) string {
	name := path.Base(p)
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
