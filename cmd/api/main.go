package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"panelboard/internal/app"
	"panelboard/internal/assets"
	"panelboard/internal/config"
	"panelboard/internal/ratelimit"
	"panelboard/internal/search"
	"panelboard/internal/session"
	"panelboard/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	limiter := ratelimit.New()
	defer limiter.Close()

	var service *app.Service
	if cfg.DevMode {
		log.Printf("Dev mode: in-memory store, no external services")
		service = app.New(cfg, store.NewMemoryStore(), session.NewMemoryStore(), limiter, searchService)
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.New(cfg, store.NewPostgresStore(db), redisStore, limiter, searchService)
	}

	if err := service.ReindexCatalog(ctx); err != nil {
		log.Printf("WARNING: catalog reindex skipped: %v", err)
	}

	var assetService *assets.Service
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		var err error
		assetService, err = assets.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey,
			cfg.S3Bucket, cfg.S3Region, cfg.S3PublicURL, cfg.S3UseSSL)
		if err != nil {
			log.Fatalf("asset storage failed: %v", err)
		}
		log.Printf("Asset storage ready: bucket %s", cfg.S3Bucket)
	} else {
		log.Printf("Asset storage not configured, uploads disabled")
	}

	httpServer := app.NewHTTPServer(service, assetService, cfg.CORSOrigin, cfg.SyncToken)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Panelboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
