package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/avalonrtc/signalmesh/internal/v1/auth"
	"github.com/avalonrtc/signalmesh/internal/v1/cluster"
	"github.com/avalonrtc/signalmesh/internal/v1/config"
	"github.com/avalonrtc/signalmesh/internal/v1/health"
	"github.com/avalonrtc/signalmesh/internal/v1/listener"
	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"github.com/avalonrtc/signalmesh/internal/v1/middleware"
	"github.com/avalonrtc/signalmesh/internal/v1/registry"
	"github.com/avalonrtc/signalmesh/internal/v1/router"
	"github.com/avalonrtc/signalmesh/internal/v1/tracing"
)

const serviceName = "signalmesh"

func main() {
	envPaths := []string{".env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	if err := logging.Initialize(os.Getenv("LOG_LEVEL") == "debug"); err != nil {
		panic(err)
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Fatal(context.Background(), "invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.NodeID, collectorAddr)
		if err != nil {
			logging.Warn(ctx, "failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	localRegistry := registry.New()
	validator := auth.NewValidator(cfg.JWTSecret)
	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	var (
		store        *cluster.Store
		clusterReg   *cluster.Registry
		monitor      *health.Monitor
		healthHandle *health.Handler
	)

	signalRouter := router.New(localRegistry, nil, nil, nil, cfg.NodeID)

	if cfg.ClusterMode {
		store, err = cluster.NewStore(cfg.RedisURL)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to shared store", zap.Error(err))
		}
		defer store.Close()

		clusterReg = cluster.NewRegistry(store)
		monitor = health.NewMonitor(store, cfg.NodeID, localRegistry.ConnectionCount)
		healthHandle = health.NewHandler(store)

		signalRouter = router.New(localRegistry, clusterReg, nil, monitor, cfg.NodeID)
		bus := cluster.NewBus(store, cfg.NodeID, signalRouter)
		signalRouter.SetBus(bus)

		go monitor.Run(ctx)
		go bus.Run(ctx)

		logging.Info(ctx, "cluster mode enabled", zap.String("node_id", cfg.NodeID), zap.String("redis_url", cfg.RedisURL))
	} else {
		healthHandle = health.NewHandler(nil)
		logging.Info(ctx, "running in single-node mode")
	}

	wsListener := listener.New(validator, signalRouter, allowedOrigins)

	gin.SetMode(releaseModeOr(cfg.LogLevel))
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(middleware.CorrelationID())
	g.Use(otelgin.Middleware(serviceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	g.Use(cors.New(corsConfig))

	g.GET("/ws", wsListener.ServeWS)
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	g.GET("/healthz", healthHandle.Liveness)
	g.GET("/readyz", healthHandle.Readiness)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: g,
	}

	go func() {
		logging.Info(ctx, "signaling server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(context.Background(), "server forced to shutdown", zap.Error(err))
	}
}

func releaseModeOr(logLevel string) string {
	if logLevel == "debug" {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
