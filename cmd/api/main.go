package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/internal/ai"
	"github.com/seanblong/reviewrag/internal/auth"
	"github.com/seanblong/reviewrag/internal/config"
	"github.com/seanblong/reviewrag/internal/embedding"
	"github.com/seanblong/reviewrag/internal/indexer"
	"github.com/seanblong/reviewrag/internal/lease"
	"github.com/seanblong/reviewrag/internal/review"
	"github.com/seanblong/reviewrag/internal/search"
	"github.com/seanblong/reviewrag/internal/source"
	"github.com/seanblong/reviewrag/internal/store"
	"github.com/seanblong/reviewrag/internal/tasks"
	"github.com/seanblong/reviewrag/internal/webhook"
	"github.com/spf13/pflag"
)

type contextResponse struct {
	Repo    string `json:"repo"`
	Found   bool   `json:"found"`
	Context string `json:"context"`
}

type repositoryLister interface {
	GetRepositories(ctx context.Context) ([]string, error)
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("reviewrag-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().
		Str("provider", cfg.Provider).
		Str("vector_store", cfg.VectorStore).
		Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.APIJwtSecret != "").
		Msg("starting reviewrag api")

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// Use the AI client's dimension for database migration
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	var (
		vs      store.VectorStore
		history webhook.History
		pg      *store.Store
	)
	switch strings.ToLower(cfg.VectorStore) {
	case "memory":
		vs = store.NewMemory()
		logger.Warn().Msg("using in-memory vector store, the index is lost on restart")
	default:
		pg, err = store.New(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pg.Close()
		if dim == 0 {
			log.Fatal("embedding dimension must be set")
		}
		if err := pg.Migrate(ctx, dim); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		vs, history = pg, pg
	}

	emb, err := embedding.New(c, cfg.EmbeddingOptions())
	if err != nil {
		log.Fatalf("Failed to create embedding generator: %v", err)
	}

	gh, err := auth.NewGithubClient(cfg.GithubConfig())
	if err != nil {
		log.Fatalf("Failed to create GitHub client: %v", err)
	}

	var locker lease.Locker = lease.NewLocalLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		locker = lease.NewRedisLocker(rdb, "reviewrag:lease:", 0)
		logger.Info().Str("addr", opts.Addr).Msg("using redis reindex leases")
	}

	src := source.NewGitHub(gh, cfg.Filter(), cfg.Index.MaxBlobBytes)
	engine := indexer.New(src, emb, vs, locker, cfg.IndexerOptions())

	svc := search.NewService(emb, vs)
	svc.TopK = cfg.Review.TopK

	var recorder review.Recorder
	if pg != nil {
		recorder = pg
	}
	dispatcher := review.NewDispatcher(gh, recorder, cfg.DispatcherOptions())

	exec := tasks.NewExecutor(cfg.Queue.Workers, cfg.Queue.Size)

	pipelines := &webhook.Pipelines{
		Reviewer:  c,
		Prompts:   svc,
		Poster:    dispatcher,
		History:   history,
		Reindexer: engine,
	}
	if cfg.Github.WebhookSecret == "" {
		logger.Warn().Msg("webhook secret not set, signatures are not verified")
	}

	secret := []byte(cfg.APIJwtSecret)

	mux := http.NewServeMux()
	mux.Handle("/webhook/github", webhook.NewHandler([]byte(cfg.Github.WebhookSecret), pipelines, exec))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if pg != nil {
			if err := pg.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/repositories", auth.OptionalAuthMiddleware(secret, func(w http.ResponseWriter, r *http.Request) {
		lister, ok := vs.(repositoryLister)
		if !ok {
			http.NotFound(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repos, err := lister.GetRepositories(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if claims := auth.ClaimsFromContext(r); claims != nil {
			allowed := repos[:0]
			for _, repo := range repos {
				if claims.Allows(repo) {
					allowed = append(allowed, repo)
				}
			}
			repos = allowed
		}
		if repos == nil {
			repos = []string{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(repos); err != nil {
			http.Error(w, "Failed to encode repositories", 500)
		}
	}))

	mux.HandleFunc("/context", auth.OptionalAuthMiddleware(secret, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		repo := r.URL.Query().Get("repo")
		q := r.URL.Query().Get("q")
		k := search.DefaultTopK
		if v := r.URL.Query().Get("k"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				k = n
			}
		}
		if repo == "" || q == "" {
			http.Error(w, "missing query parameter repo or q", http.StatusBadRequest)
			return
		}
		if claims := auth.ClaimsFromContext(r); claims != nil && !claims.Allows(repo) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		text, found := svc.RetrieveContext(ctx, repo, q, k)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(contextResponse{Repo: repo, Found: found, Context: text}); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
			return
		}

		hlog.FromRequest(r).Info().Str("path", "/context").Str("repo", repo).Int("k", k).Bool("found", found).Dur("dur", time.Since(start)).Msg("served")
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-sigCtx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := exec.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("pipelines still running at shutdown")
	}
}
