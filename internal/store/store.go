package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/reviewrag/pkg/models"
)

// VectorStore is the contract the indexer and the retrieval service rely on.
// Every record and every filter is scoped by the "owner/repo" metadata key.
type VectorStore interface {
	Upsert(ctx context.Context, records []models.VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int, repo string) ([]models.Match, error)
	IDsByRepo(ctx context.Context, repo string, limit int) ([]string, error)
	DeleteByIDs(ctx context.Context, repo string, ids []string) error
}

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repo_vectors (
  repo          TEXT NOT NULL,
  id            TEXT NOT NULL,
  path          TEXT NOT NULL,
  chunk_index   INT  NOT NULL,
  total_chunks  INT  NOT NULL,
  file_type     TEXT,
  content       TEXT,
  embedding     vector(%d) NOT NULL,
  updated_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (repo, id)
);

CREATE INDEX IF NOT EXISTS repo_vectors_embedding_idx
  ON repo_vectors USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS commits (
  id          UUID PRIMARY KEY,
  repo        TEXT NOT NULL,
  pr_number   INT  NOT NULL,
  commit_id   TEXT NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_history (
  id          UUID PRIMARY KEY,
  repo        TEXT NOT NULL,
  pr_number   INT  NOT NULL,
  comments    INT  NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now(),
  deleted_at  TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS review_history_repo_pr_idx
  ON review_history (repo, pr_number);

CREATE TABLE IF NOT EXISTS pull_requests (
  id          UUID PRIMARY KEY,
  owner       TEXT NOT NULL,
  repo        TEXT NOT NULL,
  pr_number   INT  NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now(),
  UNIQUE (owner, repo, pr_number)
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// textColumn replaces invalid UTF-8, which Postgres rejects in TEXT columns.
func textColumn(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Upsert inserts or overwrites records keyed by (repo, id).
func (s *Store) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	const q = `
		INSERT INTO repo_vectors (
			repo, id, path, chunk_index, total_chunks, file_type, content, embedding, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (repo, id) DO UPDATE SET
			path         = EXCLUDED.path,
			chunk_index  = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			file_type    = EXCLUDED.file_type,
			content      = EXCLUDED.content,
			embedding    = EXCLUDED.embedding,
			updated_at   = now();`

	batch := &pgx.Batch{}
	for _, r := range records {
		m := r.Metadata
		batch.Queue(q, m.Repo, r.ID, textColumn(m.Path), m.ChunkIndex, m.TotalChunks, m.FileType, textColumn(m.Content),
			pgvector.NewVector(r.Values))
	}

	br := s.pool.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert vectors: %w", err)
		}
	}
	return br.Close()
}

// Query returns the topK nearest records of repo by cosine similarity,
// most relevant first.
func (s *Store) Query(ctx context.Context, vector []float32, topK int, repo string) ([]models.Match, error) {
	const q = `
		SELECT id, path, chunk_index, total_chunks, repo, COALESCE(file_type, ''), COALESCE(content, ''),
		       1 - (embedding <=> $1) AS score
		FROM repo_vectors
		WHERE repo = $2
		ORDER BY embedding <=> $1
		LIMIT $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), repo, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(
			&m.ID, &m.Metadata.Path, &m.Metadata.ChunkIndex, &m.Metadata.TotalChunks,
			&m.Metadata.Repo, &m.Metadata.FileType, &m.Metadata.Content, &m.Score,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IDsByRepo lists up to limit record ids tagged with repo.
func (s *Store) IDsByRepo(ctx context.Context, repo string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM repo_vectors WHERE repo = $1 ORDER BY id LIMIT $2`, repo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteByIDs removes the given records of repo.
func (s *Store) DeleteByIDs(ctx context.Context, repo string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM repo_vectors WHERE repo = $1 AND id = ANY($2)`, repo, ids)
	return err
}

// GetRepositories returns a list of all repositories with indexed vectors.
func (s *Store) GetRepositories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT repo FROM repo_vectors ORDER BY repo")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []string
	for rows.Next() {
		var repo string
		if err := rows.Scan(&repo); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
