package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"audiolibri/api/internal/app"
	"audiolibri/api/internal/config"
	"audiolibri/api/internal/export"
	"audiolibri/api/internal/gitrepo"
	"audiolibri/api/internal/importer"
	"audiolibri/api/internal/metrics"
	"audiolibri/api/internal/reconcile"
	"audiolibri/api/internal/remote"
	"audiolibri/api/internal/search"
	"audiolibri/api/internal/session"
	"audiolibri/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	source, flow := catalogBackend(ctx, cfg)
	flow.SetObserver(func(outcome string, elapsed time.Duration) {
		log.Printf("submission finished: outcome=%s duration_ms=%d", outcome, elapsed.Milliseconds())
	})

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		engine = meiliClient
	}

	var archiver *export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err = export.NewArchiver(export.ArchiveConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("export archive: %v", err)
		}
	}

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for editor sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using in-memory editor sessions")
		sessions = session.NewMemoryStore()
	}

	ytdlp := importer.NewCLI(importer.WithBinary(cfg.YtDlpPath))
	if !ytdlp.Available() {
		log.Printf("WARNING: %s not found, imports are disabled", cfg.YtDlpPath)
	}

	service := app.New(cfg, app.Deps{
		Source:   source,
		Flow:     flow,
		Sessions: sessions,
		Audit:    store.NewSQLStore(db),
		Search:   search.NewService(engine),
		Exports:  export.NewService(archiver),
		Importer: ytdlp,
		Metrics:  metrics.New(),
	})
	defer service.Close()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if err := service.Watch(watchCtx); err != nil {
		log.Printf("WARNING: session changes from other instances will not be picked up: %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Audiolibri API listening on %s (backend %s)", cfg.Addr, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// catalogBackend wires the catalog source and the submit flow. The github
// backend reads the raw file and publishes through the REST API; the git
// backend keeps both in a local repository seeded from the remote URL.
func catalogBackend(ctx context.Context, cfg config.Config) (reconcile.Source, *reconcile.Flow) {
	raw := remote.NewHTTPSource(cfg.RemoteURL, nil)

	if cfg.Backend == config.BackendGit {
		repo := gitrepo.New(gitrepo.Config{
			BaseDir:    cfg.ReposDir,
			FilePath:   cfg.FilePath,
			BaseBranch: cfg.BaseBranch,
		})
		seed := []byte("{}\n")
		seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if doc, err := raw.Fetch(seedCtx); err != nil {
			log.Printf("WARNING: could not fetch %s to seed the local repository: %v", cfg.RemoteURL, err)
		} else {
			seed = doc.Raw
		}
		if err := repo.EnsureRepo(seed); err != nil {
			log.Fatalf("local catalog repository: %v", err)
		}
		return repo, reconcile.NewFlow(repo, repo, cfg.BaseBranch)
	}

	github := remote.NewGitHub(remote.GitHubConfig{
		Token:         cfg.GitHubToken,
		Owner:         cfg.RepoOwner,
		Repo:          cfg.RepoName,
		FilePath:      cfg.FilePath,
		BaseBranch:    cfg.BaseBranch,
		RatePerMinute: cfg.GitHubRatePerMinute,
	})
	if !cfg.GitHubReady() {
		log.Printf("WARNING: GITHUB_TOKEN, REPO_OWNER or REPO_NAME missing, submissions will fail")
	}
	if cfg.FetchVia == config.FetchAPI {
		log.Printf("reading %s/%s:%s through the contents API", cfg.RepoOwner, cfg.RepoName, cfg.FilePath)
		return github, reconcile.NewFlow(github, github, cfg.BaseBranch)
	}
	return raw, reconcile.NewFlow(raw, github, cfg.BaseBranch)
}
