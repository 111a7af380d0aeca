package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/internal/embedding"
	"github.com/seanblong/reviewrag/internal/store"
)

// DefaultTopK is the number of chunks retrieved when the caller passes 0.
const DefaultTopK = 5

type Service struct {
	Embedder embedding.Embedder
	Store    store.VectorStore
	// TopK is the number of chunks BuildPrompt retrieves. 0 means DefaultTopK.
	TopK int
}

// NewService creates a new retrieval service. The embedder must use the same
// model as the one that built the index.
func NewService(emb embedding.Embedder, vs store.VectorStore) *Service {
	return &Service{
		Embedder: emb,
		Store:    vs,
	}
}

// RetrieveContext returns the text of the topK chunks of repo most similar to
// query, joined by blank lines in relevance order. It returns false when
// nothing is indexed or retrieval fails, so callers can go on without context.
func (s *Service) RetrieveContext(ctx context.Context, repo, query string, topK int) (string, bool) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, ok := s.Embedder.Embed(ctx, query)
	if !ok {
		log.Warn().Str("repo", repo).Msg("query embedding failed, continuing without context")
		return "", false
	}

	matches, err := s.Store.Query(ctx, vec, topK, repo)
	if err != nil {
		log.Warn().Err(err).Str("repo", repo).Msg("vector query failed, continuing without context")
		return "", false
	}
	if len(matches) == 0 {
		log.Info().Str("repo", repo).Msg("no indexed context")
		return "", false
	}

	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, m.Metadata.Content)
	}
	log.Debug().Str("repo", repo).Int("matches", len(matches)).Msg("retrieved context")
	return strings.Join(parts, "\n\n"), true
}

// BuildPrompt grounds a review request for diff with the repository's
// indexed context when there is any.
func (s *Service) BuildPrompt(ctx context.Context, repo, diff string) string {
	contextText, ok := s.RetrieveContext(ctx, repo, diff, s.TopK)
	if !ok {
		return FormatPrompt("", diff)
	}
	return FormatPrompt(contextText, diff)
}

// FormatPrompt lays out the review prompt.
func FormatPrompt(contextText, diff string) string {
	if contextText == "" {
		return "No repository context available. Review based on general best practices.\n\nDiff:\n" + diff
	}
	return "Repository context:\n" + contextText + "\n\nDiff:\n" + diff
}
