// Package app wires the arena's components together.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"arena/internal/archive"
	"arena/internal/arena"
	"arena/internal/battle"
	"arena/internal/config"
	"arena/internal/judge"
	"arena/internal/pick"
	"arena/internal/ranking"
	"arena/internal/server"
	"arena/internal/store"
	"arena/internal/stream"
)

type App struct {
	server  *server.Server
	battles *store.SyncedStore
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Stores. Without a DSN the cache runs standalone and history does not
	// survive restarts.
	cache, err := store.NewMemoryStore(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	var (
		remote    store.Store
		rankStore ranking.Store
	)
	if cfg.DatabaseDSN != "" {
		pg, err := store.NewPostgresStore(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open battle store: %w", err)
		}
		remote = pg
		rankStore = ranking.NewPostgresStoreDB(pg.DB())
	} else {
		log.Println("DATABASE_DSN not set; running on the in-memory store only")
		remote = noopRemote{}
		rankStore = ranking.NewMemoryStore()
	}
	battles := store.NewSyncedStore(cache, remote)
	if err := battles.Load(ctx); err != nil {
		log.Printf("remote history load failed, serving cache only: %v", err)
	}

	// Model backends.
	gemini, err := stream.NewGeminiAdapter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init gemini adapter: %w", err)
	}
	adapters := stream.Registry{
		"gemini": stream.StreamTimeout(gemini, cfg.StreamTimeout),
		"groq":   stream.StreamTimeout(stream.NewOpenAIAdapter("", ""), cfg.StreamTimeout),
	}

	var judgeClient judge.JSONClient
	if strings.HasPrefix(cfg.JudgeModel, "gemini") {
		judgeClient, err = judge.NewGeminiClient(ctx, cfg.JudgeModel)
		if err != nil {
			return nil, fmt.Errorf("failed to init judge client: %w", err)
		}
	} else {
		judgeClient = judge.NewOpenAIClient("", cfg.JudgeModel, "")
	}
	evaluator := judge.NewEvaluator(judgeClient, judge.Retry(3, 0))

	aggregator := ranking.NewAggregator(rankStore)
	orch := battle.NewOrchestrator(adapters, evaluator, battles, aggregator)
	catalog := pick.New(pick.DefaultModels(), pick.DefaultPreferences(), nil)

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.New(archive.Config{
			Endpoint:     cfg.Archive.Endpoint,
			Region:       cfg.Archive.Region,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			Bucket:       cfg.Archive.Bucket,
			UseSSL:       cfg.Archive.UseSSL,
			ConverterURL: cfg.Archive.ConverterURL,
		})
		if err != nil {
			log.Printf("archive storage disabled: %v", err)
			archiver = nil
		}
	}

	h := server.NewHandler(orch, catalog, aggregator, battles, archiver)
	srv := server.New(cfg.Port, server.NewMux(h))

	return &App{server: srv, battles: battles}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return err
	}
	// Flush debounced battle pushes before exit.
	return a.battles.Close(ctx)
}

// noopRemote stands in when no durable store is configured: pushes succeed
// and loads find nothing.
type noopRemote struct{}

func (noopRemote) Get(context.Context, string) (*arena.Battle, error) { return nil, store.ErrNotFound }
func (noopRemote) Put(context.Context, *arena.Battle) error           { return nil }
func (noopRemote) Delete(context.Context, string) error               { return nil }
func (noopRemote) List(context.Context) ([]*arena.Battle, error)      { return nil, nil }
