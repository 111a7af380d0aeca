package models

import (
	"fmt"
	"strings"
)

// RepoFile is one blob of a repository tree. SHA is the git blob hash and
// therefore the file's content identity.
type RepoFile struct {
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int    `json:"size,omitempty"`
}

// Chunk is a window of a file's text submitted independently for embedding.
type Chunk struct {
	Text        string `json:"text"`
	Index       int    `json:"index"`
	TotalChunks int    `json:"total_chunks"`
	Path        string `json:"path"`
	Repo        string `json:"repo"`
	FileType    string `json:"file_type"`
}

// VectorMetadata is stored next to every vector. Repo is always "owner/repo"
// and is the only key used for filtered deletion.
type VectorMetadata struct {
	Path        string `json:"path"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Repo        string `json:"repo"`
	FileType    string `json:"file_type"`
	Content     string `json:"content"`
}

type VectorRecord struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata VectorMetadata `json:"metadata"`
}

// Match is a single nearest-neighbour hit.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata VectorMetadata `json:"metadata"`
}

// ReviewComment is what the AI review step produces. Line is a line number
// in the new version of the file.
type ReviewComment struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Comment string `json:"comment"`
}

// GithubReviewComment is a comment anchored by diff position, ready to be
// submitted with a review.
type GithubReviewComment struct {
	Path     string `json:"path"`
	Body     string `json:"body"`
	Position int    `json:"position"`
}

// ChunkID returns the storage id of chunk index of the blob sha.
func ChunkID(sha string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", sha, index)
}

// SplitRepo splits "owner/repo" into its two parts.
func SplitRepo(fullName string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(fullName), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository name %q, want owner/repo", fullName)
	}
	return owner, repo, nil
}
