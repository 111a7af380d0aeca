package source

import (
	"context"
	"path"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/pkg/models"
)

// GitHub crawls repositories through the GitHub REST API.
type GitHub struct {
	client       *github.Client
	filter       Filter
	maxBlobBytes int
}

// NewGitHub creates a GitHub source. maxBlobBytes <= 0 uses DefaultMaxBlobBytes.
func NewGitHub(client *github.Client, filter Filter, maxBlobBytes int) *GitHub {
	if maxBlobBytes <= 0 {
		maxBlobBytes = DefaultMaxBlobBytes
	}
	return &GitHub{client: client, filter: filter, maxBlobBytes: maxBlobBytes}
}

// ListFiles resolves branch and lists the full tree in one call. When GitHub
// truncates the listing, the tree is walked directory by directory instead.
func (g *GitHub) ListFiles(ctx context.Context, owner, repo, branch string) []models.RepoFile {
	logger := log.With().Str("repo", owner+"/"+repo).Str("branch", branch).Logger()

	b, _, err := g.client.Repositories.GetBranch(ctx, owner, repo, branch, 1)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to resolve branch")
		return []models.RepoFile{}
	}
	sha := b.GetCommit().GetSHA()
	if sha == "" {
		logger.Warn().Msg("branch has no head commit")
		return []models.RepoFile{}
	}

	tree, _, err := g.client.Git.GetTree(ctx, owner, repo, sha, true)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list tree")
		return []models.RepoFile{}
	}

	if tree.GetTruncated() {
		logger.Info().Int("entries", len(tree.Entries)).Msg("tree listing truncated, walking subtrees")
		return g.walk(ctx, owner, repo, sha)
	}

	files := make([]models.RepoFile, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() != "blob" || !g.filter.Accept(e.GetPath()) {
			continue
		}
		files = append(files, models.RepoFile{Path: e.GetPath(), SHA: e.GetSHA(), Size: e.GetSize()})
	}
	logger.Info().Int("files", len(files)).Msg("listed repository files")
	return files
}

// walk lists the tree breadth-first with one non-recursive call per
// directory. A failing directory is logged and skipped.
func (g *GitHub) walk(ctx context.Context, owner, repo, rootSHA string) []models.RepoFile {
	type dir struct{ path, sha string }

	files := []models.RepoFile{}
	queue := []dir{{path: "", sha: rootSHA}}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("tree walk cancelled")
			return files
		}
		d := queue[0]
		queue = queue[1:]

		tree, _, err := g.client.Git.GetTree(ctx, owner, repo, d.sha, false)
		if err != nil {
			log.Warn().Err(err).Str("dir", d.path).Msg("failed to list subtree")
			continue
		}
		for _, e := range tree.Entries {
			p := e.GetPath()
			if d.path != "" {
				p = path.Join(d.path, p)
			}
			switch e.GetType() {
			case "tree":
				if !g.filter.Ignored(p) {
					queue = append(queue, dir{path: p, sha: e.GetSHA()})
				}
			case "blob":
				if g.filter.Accept(p) {
					files = append(files, models.RepoFile{Path: p, SHA: e.GetSHA(), Size: e.GetSize()})
				}
			}
		}
	}
	return files
}

// FetchBlob downloads the raw blob of file. Blobs reported larger than the
// limit by the tree listing are skipped without downloading.
func (g *GitHub) FetchBlob(ctx context.Context, owner, repo string, file models.RepoFile) ([]byte, bool) {
	if file.Size > g.maxBlobBytes {
		log.Warn().Str("path", file.Path).Int("size", file.Size).Msg("blob too large, skipping")
		return nil, false
	}

	data, _, err := g.client.Git.GetBlobRaw(ctx, owner, repo, file.SHA)
	if err != nil {
		log.Warn().Err(err).Str("path", file.Path).Msg("failed to fetch blob")
		return nil, false
	}
	if len(data) > g.maxBlobBytes {
		log.Warn().Str("path", file.Path).Int("size", len(data)).Msg("blob too large, skipping")
		return nil, false
	}
	return data, true
}
