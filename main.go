package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/breed-check/internal/analysis"
	"github.com/example/breed-check/internal/breeds"
	"github.com/example/breed-check/internal/config"
	"github.com/example/breed-check/internal/grpchealth"
	"github.com/example/breed-check/internal/handlers"
	"github.com/example/breed-check/internal/logging"
	"github.com/example/breed-check/internal/prediction"
	"github.com/example/breed-check/internal/upload"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "configs/default.yaml"))
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	catalog, err := breeds.Load(cfg.BreedsFile)
	if err != nil {
		logger.Fatal("failed to load breed catalog", zap.Error(err))
	}

	client := prediction.NewClient(prediction.ClientConfig{
		BaseURL:      cfg.APIBase,
		Timeout:      cfg.PredictTimeout,
		MockFallback: cfg.MockFallback,
	}, prediction.NewMockGenerator(catalog.Detailed()), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := initStore(ctx, cfg, logger)
	analyzer := analysis.NewAnalyzer(store, client, catalog, logger)

	monitor := grpchealth.NewMonitor(client, cfg.HealthEvery, logger)
	go monitor.Run(ctx)

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = grpc.NewServer()
		monitor.Register(grpcServer)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("failed to listen for grpc health", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc health server stopped", zap.Error(err))
			}
		}()
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
	}

	validator := upload.NewValidator(cfg.MaxUploadBytes, cfg.AllowedTypes)
	h := handlers.New(analyzer, validator, catalog, monitor, handlers.Options{
		ShowFallbackNotice: cfg.ShowFallbackNotice,
		MockFallback:       cfg.MockFallback,
		SessionTTL:         cfg.SessionTTL,
	}, logger)

	r := gin.Default()
	handlers.RegisterRoutes(r, h)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("breed check listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("api_base", cfg.APIBase),
		zap.Bool("mock_fallback", cfg.MockFallback),
	)
	serveErr := serveHTTPServer(server, cfg.ShutdownTimeout, logger)

	cancel()
	monitor.Shutdown()
	if grpcServer != nil && !grpchealth.StopServer(grpcServer, cfg.ShutdownTimeout) {
		logger.Warn("grpc health server forced to stop", zap.Duration("timeout", cfg.ShutdownTimeout))
	}

	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

// initStore picks Redis when configured and falls back to process memory.
func initStore(ctx context.Context, cfg config.Config, zapLogger *zap.Logger) analysis.Store {
	if cfg.RedisAddr == "" {
		store := analysis.NewMemoryStore(cfg.SessionTTL)
		go pruneSessions(ctx, store, cfg.SessionTTL, zapLogger)
		return store
	}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return analysis.NewRedisStore(initRedis(redisCtx, cfg.RedisAddr, zapLogger), cfg.SessionTTL, zapLogger)
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func pruneSessions(ctx context.Context, store *analysis.MemoryStore, ttl time.Duration, zapLogger *zap.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Prune(); n > 0 {
				zapLogger.Debug("pruned expired sessions", zap.Int("count", n))
			}
		}
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
