package main

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/islentev/report-generator/internal/config"
	"github.com/islentev/report-generator/internal/llm"
	"github.com/islentev/report-generator/internal/metadata"
	"github.com/islentev/report-generator/internal/pipeline"
	"github.com/islentev/report-generator/internal/render"
	"github.com/islentev/report-generator/internal/rewrite"
	"github.com/islentev/report-generator/internal/section"
	"github.com/islentev/report-generator/internal/storage"
)

// env is everything a command needs after startup.
type env struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    storage.Store // nil with --no-db
	Pipeline *pipeline.Pipeline
}

func (e *env) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			e.Logger.Warn("close store", zap.Error(err))
		}
	}
	_ = e.Logger.Sync()
}

func (e *env) historyOrNil() storage.RunStore {
	if e.Store == nil {
		return nil
	}
	return e.Store
}

// mustLoad reads config, opens the store and builds the pipeline, exiting
// on any failure.
func mustLoad(ctx context.Context, showProgress bool) *env {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.AI.APIKey == "" {
		log.Fatalf("No API key: set ai.api_key in %s or REPORTGEN_API_KEY", configPath)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	var store storage.Store
	if !noHistory {
		s, err := storage.NewSQLiteStore(resolveDBPath(cfg))
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		store = s
		if cfg.Storage.Cache {
			// stale rewrites are not worth keeping around
			if n, err := s.PurgeCache(ctx, time.Now().AddDate(0, 0, -30)); err != nil {
				logger.Warn("purge rewrite cache", zap.Error(err))
			} else if n > 0 {
				logger.Info("purged rewrite cache", zap.Int64("entries", n))
			}
		}
	}

	rewriter, verifier, err := newClients(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create text service client: %v", err)
	}

	var progress rewrite.ProgressFunc
	if showProgress {
		progress = progressPrinter()
	}
	p, err := buildPipeline(cfg, rewriter, verifier, store, logger, progress)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	return &env{Config: cfg, Logger: logger, Store: store, Pipeline: p}
}

func resolveDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.Storage.Path
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	// keep stdout for the progress lines
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// newClients returns the rewrite client and, when a separate verify model is
// configured, a second client for verification.
func newClients(ctx context.Context, cfg *config.Config, logger *zap.Logger) (llm.Client, llm.Client, error) {
	opts := llm.Options{
		Provider:   cfg.AI.Provider,
		APIKey:     cfg.AI.APIKey,
		Model:      cfg.AI.Model,
		BaseURL:    cfg.AI.BaseURL,
		Timeout:    time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.AI.MaxRetries,
		Logger:     logger,
	}
	rewriter, err := llm.New(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AI.VerifyModel == "" || cfg.AI.VerifyModel == cfg.AI.Model {
		return rewriter, nil, nil
	}
	opts.Model = cfg.AI.VerifyModel
	verifier, err := llm.New(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("verify client: %w", err)
	}
	return rewriter, verifier, nil
}

func buildPipeline(cfg *config.Config, rewriter, verifier llm.Client, store storage.Store, logger *zap.Logger, progress rewrite.ProgressFunc) (*pipeline.Pipeline, error) {
	loc, err := section.NewLocator(locatorConfig(cfg.Section))
	if err != nil {
		return nil, fmt.Errorf("section locator: %w", err)
	}
	reqLoc, err := section.NewLocator(locatorConfig(cfg.Requirements))
	if err != nil {
		return nil, fmt.Errorf("requirements locator: %w", err)
	}
	boundary, err := regexp.Compile(cfg.ChunkPattern)
	if err != nil {
		return nil, fmt.Errorf("chunk pattern: %w", err)
	}

	procOpts := rewrite.Options{
		Rewriter: rewriter,
		Verifier: verifier,
		Rules: rewrite.StyleRules{
			BannedWords:       cfg.Rewrite.BannedWords,
			Tense:             cfg.Rewrite.Tense,
			PreserveNumbering: cfg.Rewrite.PreserveNumbering,
			Supplementary:     cfg.Rewrite.Supplementary,
		},
		ZeroToken:   cfg.Rewrite.ZeroToken,
		Temperature: cfg.AI.Temperature,
		Model:       cfg.AI.Provider + "/" + cfg.AI.Model + "/" + cfg.AI.VerifyModel,
		Logger:      logger,
	}
	if store != nil && cfg.Storage.Cache {
		procOpts.Cache = store
	}
	proc, err := rewrite.NewProcessor(procOpts)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Locator:             loc,
		RequirementsLocator: reqLoc,
		ChunkPattern:        boundary,
		Processor:           proc,
		Extractor:           metadata.NewExtractor(rewriter, logger),
		Renderer:            render.NewRenderer(cfg.Render.HighlightKeywords, cfg.Render.Placeholder),
		Concurrency:         cfg.Rewrite.Concurrency,
		MetadataHead:        cfg.Metadata.HeadChars,
		MetadataTail:        cfg.Metadata.TailChars,
		Logger:              logger,
		Progress:            progress,
	}
	if store != nil {
		opts.Store = store
	}
	return pipeline.New(opts)
}

func locatorConfig(lc config.LocatorConfig) section.Config {
	return section.Config{
		StartMarkers:     lc.StartMarkers,
		EndMarkers:       lc.EndMarkers,
		FallbackFraction: lc.FallbackFraction,
		MaxLength:        lc.MaxLength,
	}
}

// offlineClient backs commands that never reach the text service.
var offlineClient = llm.ClientFunc(func(context.Context, llm.Request) (string, error) {
	return "", fmt.Errorf("text service disabled: %w", llm.ErrServiceFailure)
})
