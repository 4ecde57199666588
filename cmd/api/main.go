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

	"opsdesk/api/internal/app"
	"opsdesk/api/internal/attachments"
	"opsdesk/api/internal/authpw"
	"opsdesk/api/internal/config"
	"opsdesk/api/internal/notify"
	"opsdesk/api/internal/rbac"
	"opsdesk/api/internal/search"
	"opsdesk/api/internal/session"
	"opsdesk/api/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.StaffTokenSecret == config.DevStaffTokenSecret {
		log.Printf("WARNING: using the development STAFF_TOKEN_SECRET; staff tokens can be forged by anyone who knows it")
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	defer searchService.Close()
	go searchService.ReindexAllFromPG(ctx)

	files, err := attachments.NewStore(ctx, cfg)
	if err != nil {
		log.Printf("WARNING: attachment storage disabled: %v", err)
		files = nil
	}

	provider := notify.NewProvider(cfg)
	dispatcher := notify.NewDispatcher(provider, dataStore, cfg.EmailFrom, firstNonEmpty(cfg.EmailFromName, cfg.CompanyName))
	log.Printf("Email provider: %s", provider.Name())

	if cfg.BootstrapStaffEmail != "" && cfg.BootstrapStaffPassword != "" {
		created, err := authpw.NewService(dataStore).EnsureStaff(ctx, cfg.BootstrapStaffEmail, cfg.BootstrapStaffName, cfg.BootstrapStaffPassword, rbac.RoleAdmin)
		switch {
		case err != nil:
			log.Printf("WARNING: staff bootstrap failed (will retry on next restart): %v", err)
		case created:
			log.Printf("Created bootstrap staff account %s", cfg.BootstrapStaffEmail)
		}
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for portal session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, dispatcher, files, searchService)
	} else {
		log.Printf("Using PostgreSQL for portal session storage")
		service = app.New(cfg, dataStore, dispatcher, files, searchService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("opsdesk API listening on %s", cfg.Addr)
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

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
