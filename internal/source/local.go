package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
	Stat(filename string) (os.FileInfo, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (d *DefaultFileReader) Stat(filename string) (os.FileInfo, error) {
	return os.Stat(filename)
}

// Local serves a repository checkout on disk. Owner, repo and branch
// arguments are ignored; the checkout is whatever is at Root.
type Local struct {
	Root         string
	Filter       Filter
	MaxBlobBytes int
	Walker       FileSystemWalker
	FileReader   FileReader
}

// NewLocal creates a Local source rooted at root.
func NewLocal(root string, filter Filter, maxBlobBytes int) *Local {
	if maxBlobBytes <= 0 {
		maxBlobBytes = DefaultMaxBlobBytes
	}
	return &Local{
		Root:         root,
		Filter:       filter,
		MaxBlobBytes: maxBlobBytes,
		Walker:       &DefaultFileSystemWalker{},
		FileReader:   &DefaultFileReader{},
	}
}

// BlobSHA returns the git blob hash of content, so that ids computed from a
// checkout match the ones computed from the GitHub tree.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func (l *Local) ListFiles(ctx context.Context, owner, repo, branch string) []models.RepoFile {
	files := []models.RepoFile{}
	err := l.Walker.Walk(l.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(p string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel := l.rel(p)
			if de != nil && de.IsDir() {
				if rel != "." && l.Filter.Ignored(rel) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !l.Filter.Accept(rel) {
				return nil
			}

			fi, err := l.FileReader.Stat(p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("failed to stat file")
				return nil
			}
			// oversized files are listed without a hash; FetchBlob skips them
			if fi.Size() > int64(l.MaxBlobBytes) {
				files = append(files, models.RepoFile{Path: rel, Size: int(fi.Size())})
				return nil
			}

			b, err := l.FileReader.ReadFile(p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("failed to read file")
				return nil
			}
			files = append(files, models.RepoFile{Path: rel, SHA: BlobSHA(b), Size: len(b)})
			return nil
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("root", l.Root).Msg("walk failed")
	}
	return files
}

func (l *Local) FetchBlob(ctx context.Context, owner, repo string, file models.RepoFile) ([]byte, bool) {
	if file.Size > l.MaxBlobBytes {
		log.Warn().Str("path", file.Path).Int("size", file.Size).Msg("file too large, skipping")
		return nil, false
	}
	b, err := l.FileReader.ReadFile(filepath.Join(l.Root, filepath.FromSlash(file.Path)))
	if err != nil {
		log.Warn().Err(err).Str("path", file.Path).Msg("failed to read file")
		return nil, false
	}
	if len(b) > l.MaxBlobBytes {
		log.Warn().Str("path", file.Path).Int("size", len(b)).Msg("file too large, skipping")
		return nil, false
	}
	return b, true
}

// rel returns p relative to Root with forward slashes.
func (l *Local) rel(p string) string {
	r, err := filepath.Rel(l.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}
