package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/handler"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/storage"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(false)
		if err != nil {
			return err
		}
		defer a.close()
		return serve(a)
	},
}

func serve(a *app) error {
	cfg, zapLogger := a.cfg, a.logger
	zapLogger.Info("Starting nimo-mes service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	var hub *notify.Hub
	if cfg.Notify.SSE {
		hub = notify.NewHub(zapLogger)
	}
	services, _ := a.services(hub)

	deps := handler.Deps{
		Services: services,
		DB:       a.db,
		Hub:      hub,
		Logger:   zapLogger,
		Version:  Version,
	}
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewDesignStore(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey,
			cfg.MinIO.Bucket, cfg.MinIO.UseSSL, cfg.MinIO.PresignExpiry)
		if err != nil {
			return fmt.Errorf("failed to init design store: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.EnsureBucket(ctx)
		cancel()
		if err != nil {
			zapLogger.Warn("design bucket not ready, presigned URLs may fail", zap.Error(err))
		}
		deps.Designs = store
	} else {
		zapLogger.Info("MinIO not configured, design file URLs disabled")
	}

	if cfg.Scheduler.LowStockSweep != "" {
		c, err := services.Sweep.Schedule(cfg.Scheduler.LowStockSweep)
		if err != nil {
			return fmt.Errorf("invalid low stock sweep schedule %q: %w", cfg.Scheduler.LowStockSweep, err)
		}
		defer c.Stop()
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(corsMiddleware(cfg.Server.AllowOrigins))
	router.Use(middleware.RequestID())
	// SSE 不压缩
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/mes/notifications/stream"})))

	handler.Register(router, handler.NewHandlers(deps), cfg.JWT.Secret)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	zapLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	zapLogger.Info("Server exited")
	return nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	c.AddAllowHeaders("Authorization", "X-Request-ID")
	c.AddExposeHeaders("Content-Disposition", "X-Request-ID")
	c.MaxAge = 12 * time.Hour
	return cors.New(c)
}

// emailLookup 邮件出口按用户ID取邮箱
func emailLookup(repos *repository.Repositories) notify.EmailLookup {
	return func(ctx context.Context, userID string) (string, error) {
		u, err := repos.Org.GetUser(userID)
		if err != nil {
			return "", err
		}
		return u.Email, nil
	}
}
