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
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	httpapi "github.com/demoulas/profitsharing-migrator/internal/api/http"
	"github.com/demoulas/profitsharing-migrator/internal/bootstrap"
	"github.com/demoulas/profitsharing-migrator/internal/config"
	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/queuefactory"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

const healthInterval = 30 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.RequireAPIToken(); err != nil {
		logger.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Initializing psm-server...")

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize executor: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warnf("Error during shutdown: %v", err)
		}
	}()
	exec := rt.Executor

	if cfg.Queue.Enabled {
		q, err := queuefactory.NewQueue(cfg.Queue.Factory())
		if err != nil {
			logger.Fatalf("Failed to create queue: %v", err)
		}
		defer func() { _ = q.Close() }()
		exec.SetQueue(q)
		logger.Infof("Queue %s enabled - up and down requests are queued for psm-worker", q.Name())
	}

	rt.Loader.StartWatching(ctx, cfg.Server.WatchInterval)

	reindexer := state.NewReindexer(rt.Tracker, rt.Registry, executor.DefaultSchema, cfg.Server.ReindexInterval)
	reindexer.Start(ctx)
	defer reindexer.Stop()

	router := newRouter(exec, reindexer, cfg.Server.APIToken)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	grpcListener, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		logger.Fatalf("Failed to listen on gRPC port %s: %v", cfg.Server.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting HTTP server on port %s", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Starting gRPC health server on port %s", cfg.Server.GRPCPort)
		return grpcServer.Serve(grpcListener)
	})
	g.Go(func() error {
		watchHealth(gctx, exec, healthServer)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("HTTP server forced to shutdown: %v", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	logger.Infof("psm-server started: %d migration(s) registered", len(rt.Registry.GetAll()))
	if err := g.Wait(); err != nil {
		logger.Errorf("Server stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("Servers exited")
}

func newRouter(exec *executor.Executor, reindexer httpapi.Reindexer, apiToken string) *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{SkipPaths: append([]string{"/health"}, httpapi.HealthPaths...)}))
	router.Use(gin.Recovery())
	router.Use(cors)

	handler := httpapi.NewHandler(exec, apiToken)
	handler.SetReindexer(reindexer)
	handler.RegisterRoutes(router)
	router.GET("/health", handler.Health)
	return router
}

func cors(c *gin.Context) {
	origin := c.Request.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Client-Type, X-Executed-By, X-Request-ID")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
	h.Set("Access-Control-Max-Age", "86400")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// watchHealth mirrors the state database health into the gRPC health service.
func watchHealth(ctx context.Context, exec *executor.Executor, hs *health.Server) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if err := exec.HealthCheck(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("Health check failed: %v", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
