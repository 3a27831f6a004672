package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/openbridge/difyproxy/internal/config"
	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/domain"
	"github.com/openbridge/difyproxy/internal/http"
	"github.com/openbridge/difyproxy/internal/http/middleware"
	"github.com/openbridge/difyproxy/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	container := buildContainer()

	// The logger is requested here so dig initializes it before serving.
	err := container.Invoke(func(server *http.Server, _ *zap.Logger) {
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		select {
		case startErr := <-errCh:
			if startErr != nil {
				log.Fatalf("Server failed to start: %v", startErr)
			}
		case <-stop:
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
				log.Fatalf("Server shutdown failed: %v", shutdownErr)
			}
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// Dify upstream client
	if err := container.Provide(func(cfg *dify.Config) *dify.Client {
		return dify.NewClient(*cfg)
	}); err != nil {
		log.Fatalf("Failed to provide Dify client: %v", err)
	}
	if err := container.Provide(func(client *dify.Client) domain.ChatClient {
		return client
	}); err != nil {
		log.Fatalf("Failed to provide chat client: %v", err)
	}

	// Domain services
	if err := container.Provide(domain.NewTranslator); err != nil {
		log.Fatalf("Failed to provide translator: %v", err)
	}
	if err := container.Provide(func(cfg *config.ModelsConfig) (*domain.ModelCatalog, error) {
		return domain.NewModelCatalog(cfg.Models)
	}); err != nil {
		log.Fatalf("Failed to provide model catalog: %v", err)
	}
	if err := container.Provide(domain.NewTokenCounter); err != nil {
		log.Fatalf("Failed to provide token counter: %v", err)
	}
	if err := container.Provide(domain.NewGatewayService); err != nil {
		log.Fatalf("Failed to provide gateway service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(func(corsConfig *config.CORSConfig) middleware.Middleware {
		return middleware.BuildMiddlewareChain(corsConfig)
	}); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
