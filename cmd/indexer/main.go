package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/seanblong/reviewrag/internal/ai"
	"github.com/seanblong/reviewrag/internal/auth"
	"github.com/seanblong/reviewrag/internal/config"
	"github.com/seanblong/reviewrag/internal/embedding"
	"github.com/seanblong/reviewrag/internal/indexer"
	"github.com/seanblong/reviewrag/internal/lease"
	"github.com/seanblong/reviewrag/internal/source"
	"github.com/seanblong/reviewrag/internal/store"
	"github.com/spf13/pflag"
)

const usage = `usage: reviewrag-indexer <command> [flags]

commands:
  index     index --repo at --branch (or --repo-root for a local checkout)
  reindex   delete the index of --repo and rebuild it
  delete    delete the index of --repo
  token     print an API token signed with --api-jwt-secret
`

func main() {
	fs := pflag.NewFlagSet("reviewrag-indexer", pflag.ExitOnError)
	subject := fs.String("subject", "reviewrag-cli", "Token subject (token command)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime (token command)")
	scope := fs.StringSlice("scope", nil, "Repositories the token may query; empty means all (token command)")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage+"\nflags:\n")
		cfg.Usage()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zlog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cmd := fs.Arg(0)
	if cmd == "token" {
		token, err := auth.GenerateJWT([]byte(cfg.APIJwtSecret), *subject, *scope, *ttl)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(token)
		return
	}
	if cmd != "index" && cmd != "reindex" && cmd != "delete" {
		fs.Usage()
		os.Exit(2)
	}
	if cfg.Repo == "" {
		log.Fatal("--repo owner/name is required")
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal(err)
	}
	zlog.Info().Str("provider", string(clientConfig.Provider)).Str("repo", cfg.Repo).Str("command", cmd).Msg("starting reviewrag indexer")

	ctx := context.Background()
	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	var vs store.VectorStore
	switch strings.ToLower(cfg.VectorStore) {
	case "memory":
		// only useful for dry runs
		vs = store.NewMemory()
	default:
		st, err := store.New(ctx, cfg.Database)
		if err != nil {
			log.Fatal(err)
		}
		defer st.Close()

		if c.Dim() == 0 {
			log.Fatal("embedding dimension must be set")
		}
		if err := st.Migrate(ctx, c.Dim()); err != nil {
			log.Fatal(err)
		}
		vs = st
	}

	emb, err := embedding.New(c, cfg.EmbeddingOptions())
	if err != nil {
		log.Fatal(err)
	}

	var src source.Source
	if cfg.RepoRoot != "" {
		src = source.NewLocal(cfg.RepoRoot, cfg.Filter(), cfg.Index.MaxBlobBytes)
	} else if cmd != "delete" {
		gh, err := auth.NewGithubClient(cfg.GithubConfig())
		if err != nil {
			log.Fatal(err)
		}
		src = source.NewGitHub(gh, cfg.Filter(), cfg.Index.MaxBlobBytes)
	}

	var locker lease.Locker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		locker = lease.NewRedisLocker(rdb, "reviewrag:lease:", 0)
	}

	engine := indexer.New(src, emb, vs, locker, cfg.IndexerOptions())

	var out any
	switch cmd {
	case "index":
		out, err = engine.IndexRepository(ctx, cfg.Repo, cfg.Branch)
	case "reindex":
		out, err = engine.Reindex(ctx, cfg.Repo, cfg.Branch)
	case "delete":
		var n int
		n, err = engine.DeleteRepoIndex(ctx, cfg.Repo)
		out = map[string]int{"deleted": n}
	}
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
}
