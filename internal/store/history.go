package store

import (
	"context"

	"github.com/google/uuid"
)

// AddCommit records a head commit pushed to a pull request.
func (s *Store) AddCommit(ctx context.Context, repo string, prNumber int, commitID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO commits (id, repo, pr_number, commit_id) VALUES ($1, $2, $3, $4)`,
		uuid.New(), repo, prNumber, commitID)
	return err
}

// AddReview records that a review with count comments was posted.
func (s *Store) AddReview(ctx context.Context, repo string, prNumber int, count int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_history (id, repo, pr_number, comments) VALUES ($1, $2, $3, $4)`,
		uuid.New(), repo, prNumber, count)
	return err
}

// AddPullRequest links a pull request to the reviews stored for it.
func (s *Store) AddPullRequest(ctx context.Context, owner, repo string, prNumber int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pull_requests (id, owner, repo, pr_number) VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, repo, pr_number) DO NOTHING`,
		uuid.New(), owner, repo, prNumber)
	return err
}

// DeleteReviews soft-deletes the live review rows of a pull request.
func (s *Store) DeleteReviews(ctx context.Context, repo string, prNumber int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_history SET deleted_at = now()
		WHERE repo = $1 AND pr_number = $2 AND deleted_at IS NULL`,
		repo, prNumber)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
