package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saxis/internal/platform/config"
	"saxis/internal/platform/logger"
	"saxis/internal/platform/metrics"
	"saxis/internal/programserver"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	programDir := config.GetEnv("PROGRAM_DIR", "./programs")
	sceneFile := config.GetEnv("SCENE_FILE", "./scene.yaml")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	scene, err := programserver.LoadScene(sceneFile)
	if err != nil {
		log.Error("load scene failed", "error", err)
		os.Exit(1)
	}
	spec, err := scene.JointSpec()
	if err != nil {
		log.Error("invalid scene", "error", err)
		os.Exit(1)
	}
	library, err := programserver.LoadLibrary(programDir, spec)
	if err != nil {
		log.Error("load programs failed", "error", err)
		os.Exit(1)
	}

	repo := programserver.NewInMemoryRepository()
	met := metrics.New()
	svc := programserver.NewService(repo, scene, library, log, met)
	h := programserver.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetCurrentPcount(svc.LatestSequence()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", h.Healthz)
	r.Post("/rpc", h.RPC)
	r.Get("/programs/{pcount}", h.GetProgram)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := svc.RunPublisher(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("publisher stopped", "error", err)
		}
	}()

	log.Info("server starting",
		"port", port,
		"programs", len(library),
		"joints", len(spec),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
