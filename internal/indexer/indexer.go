package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/internal/embedding"
	"github.com/seanblong/reviewrag/internal/lease"
	"github.com/seanblong/reviewrag/internal/source"
	"github.com/seanblong/reviewrag/internal/store"
	"github.com/seanblong/reviewrag/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Options tunes an Engine. Zero values take the defaults.
type Options struct {
	Workers          int // concurrent files, default 8
	EmbedConcurrency int // concurrent embedding calls per file, default 4
	UpsertBatch      int // records per upsert, default 100
	DeleteBatch      int // ids per delete, default 1000
	DeleteCap        int // ids listed per delete pass, default 10000
	ChunkSize        int
	ChunkOverlap     int
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.EmbedConcurrency <= 0 {
		o.EmbedConcurrency = 4
	}
	if o.UpsertBatch <= 0 {
		o.UpsertBatch = 100
	}
	if o.DeleteBatch <= 0 {
		o.DeleteBatch = 1000
	}
	if o.DeleteCap <= 0 {
		o.DeleteCap = 10000
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
		if o.ChunkOverlap <= 0 {
			o.ChunkOverlap = DefaultChunkOverlap
		}
	}
}

// Stats summarises one indexing pass.
type Stats struct {
	Files   int `json:"files"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Chunks  int `json:"chunks"`
	Vectors int `json:"vectors"`
}

// Engine keeps a repository's vectors in sync with its content.
type Engine struct {
	Source   source.Source
	Embedder embedding.Embedder
	Store    store.VectorStore
	Locker   lease.Locker
	opts     Options
}

// New creates an Engine. A nil locker falls back to an in-process one.
func New(src source.Source, emb embedding.Embedder, vs store.VectorStore, locker lease.Locker, opts Options) *Engine {
	opts.setDefaults()
	if locker == nil {
		locker = lease.NewLocalLocker()
	}
	return &Engine{Source: src, Embedder: emb, Store: vs, Locker: locker, opts: opts}
}

type outcome int

const (
	outcomeIndexed outcome = iota
	outcomeSkipped
	outcomeFailed
)

// IndexRepository crawls branch and embeds and upserts every file. Problems
// with a single file are logged and do not stop the pass; the only error is
// a malformed repository name.
func (e *Engine) IndexRepository(ctx context.Context, repoFullName, branch string) (Stats, error) {
	owner, repo, err := models.SplitRepo(repoFullName)
	if err != nil {
		return Stats{}, err
	}
	repoFullName = owner + "/" + repo
	start := time.Now()

	files := e.Source.ListFiles(ctx, owner, repo, branch)
	stats := Stats{Files: len(files)}
	if len(files) == 0 {
		log.Info().Str("repo", repoFullName).Str("branch", branch).Msg("no files to index")
		return stats, nil
	}

	numWorkers := e.opts.Workers
	if numWorkers > len(files) {
		numWorkers = len(files)
	}
	log.Info().Str("repo", repoFullName).Int("files", len(files)).Int("workers", numWorkers).Msg("starting concurrent indexing")

	var (
		cursor                   atomic.Int64
		indexed, skipped, failed atomic.Int64
		chunkTotal, vectorTotal  atomic.Int64
		wg                       sync.WaitGroup
	)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")
			for {
				i := cursor.Add(1) - 1
				if i >= int64(len(files)) {
					break
				}
				res, chunks, vectors := e.indexFile(ctx, owner, repo, files[i])
				chunkTotal.Add(int64(chunks))
				vectorTotal.Add(int64(vectors))
				switch res {
				case outcomeIndexed:
					indexed.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				default:
					failed.Add(1)
				}
			}
			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(w)
	}
	wg.Wait()

	stats.Indexed = int(indexed.Load())
	stats.Skipped = int(skipped.Load())
	stats.Failed = int(failed.Load())
	stats.Chunks = int(chunkTotal.Load())
	stats.Vectors = int(vectorTotal.Load())

	log.Info().Str("repo", repoFullName).
		Int("indexed", stats.Indexed).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("vectors", stats.Vectors).
		Dur("took", time.Since(start)).
		Msg("indexing finished")
	return stats, nil
}

// indexFile fetches, chunks, embeds and upserts a single file.
func (e *Engine) indexFile(ctx context.Context, owner, repo string, file models.RepoFile) (outcome, int, int) {
	repoFullName := owner + "/" + repo
	logger := log.With().Str("repo", repoFullName).Str("path", file.Path).Logger()

	data, ok := e.Source.FetchBlob(ctx, owner, repo, file)
	if !ok {
		return outcomeSkipped, 0, 0
	}

	chunks := ChunkText(string(data), e.opts.ChunkSize, e.opts.ChunkOverlap)
	if len(chunks) == 0 {
		logger.Debug().Msg("empty file")
		return outcomeSkipped, 0, 0
	}

	vecs := make([][]float32, len(chunks))
	var g errgroup.Group
	g.SetLimit(e.opts.EmbedConcurrency)
	for i, text := range chunks {
		g.Go(func() error {
			if v, ok := e.Embedder.Embed(ctx, text); ok {
				vecs[i] = v
			}
			return nil
		})
	}
	// the goroutines never return an error; the group only bounds concurrency
	_ = g.Wait()

	fileType := source.FileType(file.Path)
	records := make([]models.VectorRecord, 0, len(chunks))
	for i, v := range vecs {
		if v == nil {
			continue
		}
		records = append(records, models.VectorRecord{
			ID:     models.ChunkID(file.SHA, i),
			Values: v,
			Metadata: models.VectorMetadata{
				Path:        file.Path,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				Repo:        repoFullName,
				FileType:    fileType,
				Content:     chunks[i],
			},
		})
	}
	if len(records) == 0 {
		logger.Warn().Int("chunks", len(chunks)).Msg("no chunk could be embedded")
		return outcomeFailed, len(chunks), 0
	}

	upserted := 0
	for start := 0; start < len(records); start += e.opts.UpsertBatch {
		end := min(start+e.opts.UpsertBatch, len(records))
		if err := e.Store.Upsert(ctx, records[start:end]); err != nil {
			logger.Error().Err(err).Int("upserted", upserted).Msg("upsert failed")
			return outcomeFailed, len(chunks), upserted
		}
		upserted += end - start
	}

	if len(records) < len(chunks) {
		logger.Warn().Int("chunks", len(chunks)).Int("vectors", len(records)).Msg("some chunks were not embedded")
	}
	logger.Debug().Int("vectors", upserted).Msg("indexed file")
	return outcomeIndexed, len(chunks), upserted
}

// DeleteRepoIndex removes the repository's vectors, listing at most
// DeleteCap ids and deleting them in batches. It returns how many ids were
// deleted.
func (e *Engine) DeleteRepoIndex(ctx context.Context, repoFullName string) (int, error) {
	owner, repo, err := models.SplitRepo(repoFullName)
	if err != nil {
		return 0, err
	}
	repoFullName = owner + "/" + repo

	ids, err := e.Store.IDsByRepo(ctx, repoFullName, e.opts.DeleteCap)
	if err != nil {
		return 0, fmt.Errorf("list vectors of %s: %w", repoFullName, err)
	}
	if len(ids) == 0 {
		log.Info().Str("repo", repoFullName).Msg("no vectors found")
		return 0, nil
	}
	if len(ids) >= e.opts.DeleteCap {
		log.Warn().Str("repo", repoFullName).Int("cap", e.opts.DeleteCap).Msg("delete listing hit its cap, vectors may remain")
	}

	deleted := 0
	for start := 0; start < len(ids); start += e.opts.DeleteBatch {
		end := min(start+e.opts.DeleteBatch, len(ids))
		if err := e.Store.DeleteByIDs(ctx, repoFullName, ids[start:end]); err != nil {
			return deleted, fmt.Errorf("delete vectors of %s: %w", repoFullName, err)
		}
		deleted += end - start
	}
	log.Info().Str("repo", repoFullName).Int("deleted", deleted).Msg("deleted repository index")
	return deleted, nil
}

// Reindex deletes and rebuilds the repository's index while holding the
// repository's lease, so two rebuilds never interleave.
func (e *Engine) Reindex(ctx context.Context, repoFullName, branch string) (Stats, error) {
	owner, repo, err := models.SplitRepo(repoFullName)
	if err != nil {
		return Stats{}, err
	}
	repoFullName = owner + "/" + repo

	release, err := e.Locker.Acquire(ctx, "reindex:"+repoFullName)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("repo", repoFullName).Msg("failed to release reindex lease")
		}
	}()

	if _, err := e.DeleteRepoIndex(ctx, repoFullName); err != nil {
		log.Error().Err(err).Str("repo", repoFullName).Msg("delete before reindex failed, rebuilding anyway")
	}
	return e.IndexRepository(ctx, repoFullName, branch)
}
