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

	"fieldtally/api/internal/app"
	"fieldtally/api/internal/config"
	"fieldtally/api/internal/entries"
	"fieldtally/api/internal/locks"
	"fieldtally/api/internal/media"
	"fieldtally/api/internal/search"
	"fieldtally/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	entryStore := store.NewEntryStore(db)

	var locker *locks.Locker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		locker, err = locks.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer locker.Close()
		log.Printf("Archive locking enabled via Redis")
	} else {
		log.Printf("WARNING: no Redis configured, archive/edit races are unguarded")
	}

	var mediaStore *media.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaStore, err = media.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		if err := mediaStore.EnsureBucket(ctx); err != nil {
			log.Fatalf("minio bucket setup failed: %v", err)
		}
	}

	var index *search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		index = search.New(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer index.Close()
	}

	repository := entries.NewRepository(entryStore, locker, index)
	validator := entries.NewValidator(entryStore)
	archiver := entries.NewArchiver(entryStore, locker, mediaStore, index, entries.ArchiverOptions{
		ChunkSize:      cfg.ArchiveChunk,
		EraseChunkSize: cfg.EraseChunk,
		LockTTL:        cfg.LockTTL,
	})

	service := app.New(cfg, entryStore, repository, validator, archiver)
	httpServer := app.NewHTTPServer(service)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Fieldtally API listening on %s", cfg.Addr)
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
