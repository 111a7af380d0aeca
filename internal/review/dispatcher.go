// Package review turns AI review comments into GitHub pull request reviews.
package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/pkg/models"
)

const (
	DefaultBatchSize  = 50
	DefaultReviewBody = "Automated code review"
)

// Recorder persists what was posted. Failures are logged and never undo the
// GitHub review.
type Recorder interface {
	AddReview(ctx context.Context, repo string, prNumber int, count int) error
	AddPullRequest(ctx context.Context, owner, repo string, prNumber int) error
}

// Options configures a Dispatcher.
type Options struct {
	BatchSize  int
	Retry      RetryPolicy
	ReviewBody string
	// BotLogin is the account whose comments are replaced on re-review. When
	// empty the authenticated user is looked up, which GitHub App
	// installation tokens cannot do.
	BotLogin string
}

// Result describes one PostReview call.
type Result struct {
	Posted  int `json:"posted"`
	Dropped int `json:"dropped"`
	Batches int `json:"batches"`
}

// Dispatcher posts reviews on pull requests.
type Dispatcher struct {
	client   *github.Client
	recorder Recorder
	opts     Options
}

// NewDispatcher creates a Dispatcher. recorder may be nil.
func NewDispatcher(client *github.Client, recorder Recorder, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.ReviewBody == "" {
		opts.ReviewBody = DefaultReviewBody
	}
	return &Dispatcher{client: client, recorder: recorder, opts: opts}
}

// PostReview anchors comments on the pull request's diff and submits them in
// batches tied to the pull request's current head. Positions are only valid
// for the head the patches were listed from, so headCommit is used only when
// the head cannot be read. Comments whose file or line is not in the diff are
// dropped. A batch that exhausts its retries stops the remaining batches and
// its error is returned.
func (d *Dispatcher) PostReview(ctx context.Context, repoFullName string, prNumber int, comments []models.ReviewComment, headCommit string) (Result, error) {
	owner, repo, err := models.SplitRepo(repoFullName)
	if err != nil {
		return Result{}, err
	}
	logger := log.With().Str("repo", repoFullName).Int("pr", prNumber).Logger()
	logger.Info().Int("comments", len(comments)).Msg("starting batch review post")

	patches, err := d.listPatches(ctx, owner, repo, prNumber)
	if err != nil {
		return Result{}, fmt.Errorf("list files of %s#%d: %w", repoFullName, prNumber, err)
	}

	var res Result
	anchored := make([]models.GithubReviewComment, 0, len(comments))
	for _, c := range comments {
		patch, ok := patches[c.Path]
		if !ok || patch == "" {
			logger.Warn().Str("path", c.Path).Msg("file not in pull request or has no patch")
			res.Dropped++
			continue
		}
		pos, ok := ResolvePosition(patch, c.Line)
		if !ok {
			logger.Warn().Str("path", c.Path).Int("line", c.Line).Msg("line not in diff")
			res.Dropped++
			continue
		}
		body := c.Comment
		if body == "" {
			body = "No comment provided"
		}
		anchored = append(anchored, models.GithubReviewComment{Path: c.Path, Body: body, Position: pos})
	}

	if len(anchored) == 0 {
		logger.Warn().Int("dropped", res.Dropped).Msg("no valid comments to post")
		return res, nil
	}

	headCommit, err = d.liveHead(ctx, owner, repo, prNumber, headCommit)
	if err != nil {
		return res, fmt.Errorf("get %s#%d: %w", repoFullName, prNumber, err)
	}

	total := (len(anchored) + d.opts.BatchSize - 1) / d.opts.BatchSize
	for start := 0; start < len(anchored); start += d.opts.BatchSize {
		batch := anchored[start:min(start+d.opts.BatchSize, len(anchored))]
		req := d.reviewRequest(headCommit, batch)

		err := d.opts.Retry.Do(ctx, func(ctx context.Context) error {
			_, _, err := d.client.PullRequests.CreateReview(ctx, owner, repo, prNumber, req)
			if err != nil {
				logger.Warn().Err(err).Int("batch", res.Batches+1).Msg("review submission failed")
			}
			return err
		})
		if err != nil {
			logger.Error().Err(err).Int("batch", res.Batches+1).Int("batches", total).Msg("error posting batch review")
			return res, fmt.Errorf("post review batch %d/%d on %s#%d: %w", res.Batches+1, total, repoFullName, prNumber, err)
		}
		res.Batches++
		res.Posted += len(batch)
		logger.Info().Int("comments", len(batch)).Msg("posted review comments")
	}

	if d.recorder != nil {
		if err := d.recorder.AddReview(ctx, repoFullName, prNumber, len(comments)); err != nil {
			logger.Error().Err(err).Msg("failed to record review")
		} else if err := d.recorder.AddPullRequest(ctx, owner, repo, prNumber); err != nil {
			logger.Error().Err(err).Msg("failed to record pull request")
		}
	}
	return res, nil
}

// liveHead reads the pull request's head commit. The event's commit may be
// stale after rapid pushes; it is only a fallback when the lookup fails.
func (d *Dispatcher) liveHead(ctx context.Context, owner, repo string, prNumber int, eventCommit string) (string, error) {
	pr, _, err := d.client.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil || pr.GetHead().GetSHA() == "" {
		if eventCommit == "" {
			if err == nil {
				err = errors.New("pull request has no head commit")
			}
			return "", err
		}
		log.Warn().Err(err).Str("commit", eventCommit).Msg("could not read pull request head, using event commit")
		return eventCommit, nil
	}
	head := pr.GetHead().GetSHA()
	if eventCommit != "" && eventCommit != head {
		log.Warn().Str("event_commit", eventCommit).Str("head", head).Msg("pull request head moved, reviewing current head")
	}
	return head, nil
}

func (d *Dispatcher) reviewRequest(commit string, batch []models.GithubReviewComment) *github.PullRequestReviewRequest {
	drafts := make([]*github.DraftReviewComment, 0, len(batch))
	for _, c := range batch {
		drafts = append(drafts, &github.DraftReviewComment{
			Path:     github.Ptr(c.Path),
			Body:     github.Ptr(c.Body),
			Position: github.Ptr(c.Position),
		})
	}
	return &github.PullRequestReviewRequest{
		CommitID: github.Ptr(commit),
		Body:     github.Ptr(d.opts.ReviewBody),
		Event:    github.Ptr("COMMENT"),
		Comments: drafts,
	}
}

// listPatches returns the unified patch of every file in the pull request,
// following pagination to the end.
func (d *Dispatcher) listPatches(ctx context.Context, owner, repo string, prNumber int) (map[string]string, error) {
	patches := make(map[string]string)
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := d.client.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			patches[f.GetFilename()] = f.GetPatch()
		}
		if resp.NextPage == 0 {
			return patches, nil
		}
		opts.Page = resp.NextPage
	}
}

// DeletePreviousAIComments removes every review comment the bot account left
// on the pull request. A comment that cannot be deleted is logged and
// skipped. It returns how many comments were deleted.
func (d *Dispatcher) DeletePreviousAIComments(ctx context.Context, repoFullName string, prNumber int) (int, error) {
	owner, repo, err := models.SplitRepo(repoFullName)
	if err != nil {
		return 0, err
	}
	logger := log.With().Str("repo", repoFullName).Int("pr", prNumber).Logger()

	login := d.opts.BotLogin
	if login == "" {
		user, _, err := d.client.Users.Get(ctx, "")
		if err != nil {
			return 0, fmt.Errorf("get authenticated user: %w", err)
		}
		login = user.GetLogin()
	}

	var ids []int64
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := d.client.PullRequests.ListComments(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return 0, fmt.Errorf("list review comments of %s#%d: %w", repoFullName, prNumber, err)
		}
		for _, c := range comments {
			if c.GetUser().GetLogin() == login {
				ids = append(ids, c.GetID())
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	deleted := 0
	for _, id := range ids {
		if _, err := d.client.PullRequests.DeleteComment(ctx, owner, repo, id); err != nil {
			logger.Warn().Err(err).Int64("comment", id).Msg("could not delete comment")
			continue
		}
		deleted++
	}
	logger.Info().Int("deleted", deleted).Int("found", len(ids)).Str("bot", login).Msg("deleted previous AI comments")
	return deleted, nil
}

// PullRequestDiff returns the unified diff of the whole pull request.
func (d *Dispatcher) PullRequestDiff(ctx context.Context, repoFullName string, prNumber int) (string, error) {
	owner, repo, err := models.SplitRepo(repoFullName)
	if err != nil {
		return "", err
	}
	diff, _, err := d.client.PullRequests.GetRaw(ctx, owner, repo, prNumber, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("get diff of %s#%d: %w", repoFullName, prNumber, err)
	}
	return diff, nil
}
