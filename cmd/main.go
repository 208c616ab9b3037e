package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voice-qa-gateway/internal/answer"
	"voice-qa-gateway/internal/app"
	"voice-qa-gateway/internal/config"
	"voice-qa-gateway/internal/conversation"
	"voice-qa-gateway/internal/events"
	httpapi "voice-qa-gateway/internal/http"
	"voice-qa-gateway/internal/observability"
	"voice-qa-gateway/internal/recognition"
	"voice-qa-gateway/internal/recognition/google"
	"voice-qa-gateway/internal/recognition/mock"
	"voice-qa-gateway/internal/segmenter"
	"voice-qa-gateway/internal/session"
	"voice-qa-gateway/internal/ws"
)

func main() {
	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg := config.Load()
	application := app.New(cfg)
	logger := application.Logger

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Application startup failed")
	}
	defer application.Shutdown()

	// Conversation event publisher; runs in log-only mode when disabled.
	publisher := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicQuestion: cfg.Kafka.TopicQuestion,
		TopicAnswer:   cfg.Kafka.TopicAnswer,
		Principal:     cfg.Kafka.Principal,
	})
	defer publisher.Close()

	var provider recognition.Provider
	switch cfg.Recognition.Provider {
	case "google":
		provider = google.NewProvider()
	default:
		provider = mock.NewProvider()
	}
	logger.Info().Str("provider", cfg.Recognition.Provider).Msg("Recognition provider selected")

	engine := segmenter.New(segmenter.Config{SilenceTimeout: cfg.Segmenter.SilenceTimeout})
	defer engine.Close()

	ctrl := session.New(provider, engine, recognition.Config{
		Continuous:     cfg.Recognition.Continuous,
		InterimResults: cfg.Recognition.InterimResults,
		Language:       cfg.Recognition.Language,
	})
	defer ctrl.Close()

	orch := conversation.New(answer.Lazy(), publisher)
	orch.Bind(engine)
	orch.SetActiveCheck(ctrl.Active)

	hub := ws.NewHub(ctrl, engine, orch, logger)

	// Metrics and health probes on their own port.
	obsServer := observability.NewServer(":"+cfg.Service.MetricsPort, ctrl.Active)
	obsServer.Start()

	// gRPC health endpoint for platform probes and grpcurl.
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("gRPC listen failed")
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("voice.qa.gateway", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      httpapi.NewRouter(application, hub, orch),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC server started")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info().Str("port", cfg.Service.HTTPPort).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown signal received")

		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		ctrl.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		_ = obsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}
