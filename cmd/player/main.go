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
	"saxis/internal/session"
	"saxis/internal/status"
	"saxis/internal/viewer"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	serverURL := config.GetEnv("SERVER_URL", "http://localhost:8080")
	viewerPort := config.GetEnv("VIEWER_PORT", "8090")
	frameInterval := config.GetEnvDuration("FRAME_INTERVAL", session.DefaultFrameInterval)
	pollInterval := config.GetEnvDuration("POLL_INTERVAL", session.DefaultPollInterval)
	requestTimeout := config.GetEnvDuration("REQUEST_TIMEOUT", status.DefaultRequestTimeout)
	recordStart := config.GetEnvInt64("RECORD_START_PCOUNT", 0)
	recordStop := config.GetEnvInt64("RECORD_STOP_PCOUNT", 0)
	viewerBuffer := config.GetEnvInt("VIEWER_SEND_BUFFER", viewer.DefaultSendBuffer)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := viewer.NewHub(log, viewer.WithSendBuffer(viewerBuffer))
	met := metrics.NewPlayer()
	transport := status.NewHTTPTransport(serverURL, requestTimeout)

	sess, err := session.New(ctx, transport,
		session.Renderers{hub, session.NewLogRenderer(log)},
		session.Config{
			FrameInterval: frameInterval,
			PollInterval:  pollInterval,
			Recording:     status.RecordingConfig{StartPcount: recordStart, StopPcount: recordStop},
		},
		session.WithLogger(log),
		session.WithMetrics(met),
		session.WithRecorder(hub),
	)
	if err != nil {
		log.Error("session setup failed", "server", serverURL, "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Get("/metrics", met.Handler(nil).ServeHTTP)
	r.Get("/ws", hub.ServeWS)
	r.Get("/status", sess.StatusHandler)
	r.Post("/hold", sess.HoldHandler)
	r.Post("/resume", sess.ResumeHandler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: ":" + viewerPort, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("viewer server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("player starting",
		"session", sess.ID().String(),
		"server", serverURL,
		"viewer_port", viewerPort,
		"joints", len(sess.Spec()),
	)

	runErr := sess.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("player stopped", "error", runErr)
		os.Exit(1)
	}
	log.Info("player stopped")
}
