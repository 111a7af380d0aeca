package webhook

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/internal/indexer"
	"github.com/seanblong/reviewrag/internal/review"
	"github.com/seanblong/reviewrag/pkg/models"
)

// Reviewer produces review comments for a prompt. ai.Client satisfies it.
type Reviewer interface {
	Review(ctx context.Context, prompt string) ([]models.ReviewComment, error)
}

// PromptBuilder wraps a diff with retrieved repository context.
type PromptBuilder interface {
	BuildPrompt(ctx context.Context, repo, diff string) string
}

// Poster talks to the pull request on GitHub.
type Poster interface {
	PullRequestDiff(ctx context.Context, repoFullName string, prNumber int) (string, error)
	DeletePreviousAIComments(ctx context.Context, repoFullName string, prNumber int) (int, error)
	PostReview(ctx context.Context, repoFullName string, prNumber int, comments []models.ReviewComment, headCommit string) (review.Result, error)
}

// History records pull request activity. Writes are best-effort.
type History interface {
	AddCommit(ctx context.Context, repo string, prNumber int, commitID string) error
	DeleteReviews(ctx context.Context, repo string, prNumber int) (int64, error)
}

// Reindexer rebuilds a repository index.
type Reindexer interface {
	Reindex(ctx context.Context, repoFullName, branch string) (indexer.Stats, error)
}

// Pipelines holds the services the webhook pipelines drive. History may be
// nil.
type Pipelines struct {
	Reviewer  Reviewer
	Prompts   PromptBuilder
	Poster    Poster
	History   History
	Reindexer Reindexer
}

// PullRequest identifies the pull request a review runs against.
type PullRequest struct {
	Repo    string
	Number  int
	HeadSHA string
	Action  string
}

// ReviewPullRequest reviews the current diff of pr and posts the result. On
// synchronize the previous AI review is cleared first.
func (p *Pipelines) ReviewPullRequest(ctx context.Context, pr PullRequest) error {
	logger := log.With().Str("repo", pr.Repo).Int("pr", pr.Number).Str("action", pr.Action).Logger()

	if pr.Action == "synchronize" {
		if p.History != nil {
			if err := p.History.AddCommit(ctx, pr.Repo, pr.Number, pr.HeadSHA); err != nil {
				logger.Error().Err(err).Str("commit", pr.HeadSHA).Msg("failed to record commit")
			}
		}

		if _, err := p.Poster.DeletePreviousAIComments(ctx, pr.Repo, pr.Number); err != nil {
			logger.Warn().Err(err).Msg("failed to delete previous review comments")
		}

		if p.History != nil {
			if _, err := p.History.DeleteReviews(ctx, pr.Repo, pr.Number); err != nil {
				logger.Error().Err(err).Msg("failed to delete previous reviews")
			}
		}
	}

	diff, err := p.Poster.PullRequestDiff(ctx, pr.Repo, pr.Number)
	if err != nil {
		return fmt.Errorf("fetch diff for %s#%d: %w", pr.Repo, pr.Number, err)
	}

	prompt := p.Prompts.BuildPrompt(ctx, pr.Repo, diff)
	comments, err := p.Reviewer.Review(ctx, prompt)
	if err != nil {
		return fmt.Errorf("review %s#%d: %w", pr.Repo, pr.Number, err)
	}
	logger.Info().Int("comments", len(comments)).Msg("review generated")

	res, err := p.Poster.PostReview(ctx, pr.Repo, pr.Number, comments, pr.HeadSHA)
	if err != nil {
		return fmt.Errorf("post review for %s#%d: %w", pr.Repo, pr.Number, err)
	}
	logger.Info().Int("posted", res.Posted).Int("dropped", res.Dropped).Int("batches", res.Batches).Msg("review posted")
	return nil
}

// ReindexRepository rebuilds the index of repo from branch.
func (p *Pipelines) ReindexRepository(ctx context.Context, repo, branch string) error {
	stats, err := p.Reindexer.Reindex(ctx, repo, branch)
	if err != nil {
		return fmt.Errorf("reindex %s@%s: %w", repo, branch, err)
	}
	log.Info().
		Str("repo", repo).
		Str("branch", branch).
		Int("files", stats.Files).
		Int("indexed", stats.Indexed).
		Int("failed", stats.Failed).
		Int("vectors", stats.Vectors).
		Msg("repository reindexed")
	return nil
}
