package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khoahotran/profile-service/adapters/event"
	httpAdapter "github.com/khoahotran/profile-service/adapters/http"
	"github.com/khoahotran/profile-service/adapters/persistence"
	profileUC "github.com/khoahotran/profile-service/internal/application/usecase/profile"
	"github.com/khoahotran/profile-service/internal/config"
	"github.com/khoahotran/profile-service/pkg/logger"
	"github.com/khoahotran/profile-service/pkg/tracing"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}

	appLogger := logger.NewZapLogger(cfg.App.Env)
	defer appLogger.Sync()

	shutdownTracing, err := tracing.Setup(cfg, appLogger, serviceName)
	if err != nil {
		return fmt.Errorf("cannot init tracing: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shCtx); err != nil {
			appLogger.Error("Failed to flush traces", err)
		}
	}()

	profileRepo, err := persistence.NewProfileRepository(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("cannot connect profile store: %w", err)
	}
	defer profileRepo.Close(context.Background())

	publisher := event.NewProfileEventPublisher(cfg, appLogger)
	defer publisher.Close()

	profileUseCase := profileUC.NewProfileUseCase(profileRepo, publisher, appLogger)
	profileHandler := httpAdapter.NewProfileHandler(profileUseCase, appLogger)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpAdapter.NewRouter(profileHandler, appLogger)

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Server running", zap.String("port", cfg.App.Port), zap.String("driver", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("cannot run server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	err = g.Wait()
	// In-flight events still need the publisher and the store.
	profileUseCase.Wait()
	if err != nil {
		appLogger.Error("Server stopped with error", err)
		return err
	}
	appLogger.Info("Server stopped")
	return nil
}
