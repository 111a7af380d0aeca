package config

import (
	"github.com/seanblong/reviewrag/internal/auth"
	"github.com/seanblong/reviewrag/internal/embedding"
	"github.com/seanblong/reviewrag/internal/indexer"
	"github.com/seanblong/reviewrag/internal/review"
	"github.com/seanblong/reviewrag/internal/source"
)

// GithubConfig returns the GitHub credentials.
func (s *Specification) GithubConfig() auth.GithubConfig {
	return auth.GithubConfig{
		Token:          s.Github.Token,
		AppID:          s.Github.AppID,
		InstallationID: s.Github.InstallationID,
		PrivateKeyPath: s.Github.PrivateKeyPath,
		APIURL:         s.Github.APIURL,
	}
}

// Filter returns the path filter, falling back to source.DefaultFilter for
// unset lists.
func (s *Specification) Filter() source.Filter {
	f := source.DefaultFilter()
	if len(s.Index.Extensions) > 0 {
		f.Extensions = s.Index.Extensions
	}
	if len(s.Index.Ignore) > 0 {
		f.Ignore = s.Index.Ignore
	}
	return f
}

func (s *Specification) IndexerOptions() indexer.Options {
	return indexer.Options{
		Workers:          s.Index.Workers,
		EmbedConcurrency: s.Index.EmbedConcurrency,
		UpsertBatch:      s.Index.UpsertBatch,
		DeleteBatch:      s.Index.DeleteBatch,
		DeleteCap:        s.Index.DeleteCap,
		ChunkSize:        s.Index.ChunkSize,
		ChunkOverlap:     s.Index.ChunkOverlap,
	}
}

func (s *Specification) EmbeddingOptions() embedding.Options {
	return embedding.Options{
		RequestsPerMinute: s.Index.EmbedRPM,
		CacheSize:         s.Index.EmbedCacheSize,
	}
}

func (s *Specification) DispatcherOptions() review.Options {
	return review.Options{
		BatchSize: s.Review.BatchSize,
		Retry: review.RetryPolicy{
			MaxAttempts: s.Review.MaxAttempts,
			BaseDelay:   s.Review.BaseDelay,
			MaxDelay:    s.Review.MaxDelay,
		},
		ReviewBody: s.Review.Body,
		BotLogin:   s.Review.BotLogin,
	}
}
