package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/analysis"
	"github.com/chessclass/live-server/internal/auth"
	appcfg "github.com/chessclass/live-server/internal/config"
	"github.com/chessclass/live-server/internal/finalize"
	"github.com/chessclass/live-server/internal/httpapi"
	"github.com/chessclass/live-server/internal/live"
	"github.com/chessclass/live-server/internal/msgcat"
	"github.com/chessclass/live-server/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	cat, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	registry := live.NewRegistry()
	store := live.NewStore()
	queue := live.NewQueue()
	router := live.NewRouter(registry, store, queue, cat, cfg.PauseGrace, cfg.SweepInterval)

	repo, err := finalize.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("repository init error: %v", err)
	}
	archive, err := finalize.NewArchive(cfg.RedisURL)
	if err != nil {
		log.Fatalf("archive init error: %v", err)
	}
	router.AttachFinalizer(finalize.New(store, repo, archive))

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var engine *analysis.Engine
	if cfg.StockfishPath != "" {
		engine, err = analysis.NewEngine(rootCtx, cfg.StockfishPath)
		if err != nil {
			obslog.L().Warn("engine_unavailable", zap.String("path", cfg.StockfishPath), zap.Error(err))
			engine = nil
		}
	}
	var cloud *analysis.CloudClient
	if cfg.CloudEvalURL != "" {
		cloud = analysis.NewCloudClient(cfg.CloudEvalURL)
	}
	suggest := analysis.NewService(engine, cloud, cfg.SuggestMoveTime)

	router.StartSweeper(rootCtx)

	server := httpapi.NewServer(cfg.ListenAddr, httpapi.Deps{
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Router:   router,
		Registry: registry,
		Store:    store,
		Archive:  archive,
		Suggest:  suggest,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		obslog.L().Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			obslog.L().Error("server_error", zap.Error(err))
		}
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		obslog.L().Error("shutdown_error", zap.Error(err))
	}
	if engine != nil {
		_ = engine.Close()
	}
	_ = archive.Close()
	_ = repo.Close()
}
