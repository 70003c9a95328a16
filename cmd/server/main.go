package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/config"
	"github.com/agenthands/cobalt/internal/core"
	"github.com/agenthands/cobalt/internal/core/consensus"
	"github.com/agenthands/cobalt/internal/core/dedupe"
	"github.com/agenthands/cobalt/internal/core/merge"
	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/embed"
	"github.com/agenthands/cobalt/internal/llm"
	"github.com/agenthands/cobalt/internal/logging"
	"github.com/agenthands/cobalt/internal/resilience"
	"github.com/agenthands/cobalt/internal/server"
	"github.com/agenthands/cobalt/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config file not loaded, using defaults", zap.String("path", cfgPath), zap.Error(err))
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	ctx := context.Background()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close(ctx)
	if err := st.BuildIndices(ctx); err != nil {
		logger.Warn("failed to build indices", zap.Error(err))
	}

	embedder, err := llm.NewEmbedder(ctx, cfg.Embedder)
	if err != nil {
		logger.Fatal("failed to initialize embedder", zap.Error(err))
	}

	policy := resilience.NewPolicy("embedder", cfg.Resilience, logger)
	cache := embed.NewCache(embedder, st, policy, logger)

	scorer := similarity.NewScorer(cfg.Similarity)
	cons := consensus.NewScorer(cfg.Consensus)
	contradictions := dedupe.NewContradictionDetector(scorer, cfg.Similarity.ValueThreshold)
	merger := merge.NewMerger(scorer, contradictions, cons, cfg.Similarity.SentenceDedupe)
	detector := dedupe.NewDetector(scorer, cache, cfg.Similarity, logger)
	consolidator := core.NewConsolidator(st, detector, merger, cons, cache, logger)

	pool := core.NewPool(consolidator, cfg.Pool, logger)
	pool.Start(ctx)

	srv := server.NewServer(consolidator, pool, st, logger)
	router := srv.SetupRouter()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	httpServer := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		logger.Info("starting server", zap.String("port", port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	pool.Stop()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("using in-memory store, data will not survive restarts")
		return store.NewMemoryStore(), nil
	default:
		return store.NewMemgraphStore(cfg.Store.URI, cfg.Store.User, cfg.Store.Password, logger)
	}
}
