// Command pushi runs the Pushi realtime pub/sub broker: a WebSocket upgrade
// server on APP_HOST:APP_PORT and an HTTP control plane on
// SERVER_HOST:SERVER_PORT, backed by PostgreSQL for durable state and an
// optional Redis-backed admin session store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pushi-dev/pushi/internal/adapter"
	"github.com/pushi-dev/pushi/internal/alias"
	"github.com/pushi-dev/pushi/internal/auth"
	"github.com/pushi-dev/pushi/internal/broker"
	"github.com/pushi-dev/pushi/internal/cache"
	"github.com/pushi-dev/pushi/internal/config"
	"github.com/pushi-dev/pushi/internal/db"
	"github.com/pushi-dev/pushi/internal/httpapi"
	"github.com/pushi-dev/pushi/internal/logger"
	"github.com/pushi-dev/pushi/internal/wsconn"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)

	database, err := db.NewDatabase(db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}

	repo := db.NewRepository(database)

	cacheClient, err := cache.NewCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		Enabled:  cfg.CacheEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize cache")
	}

	// Every adapter shares one alias map, independent of the broker's own
	// per-app alias maps. Nothing adds entries to it: personal-channel
	// aliases loaded at startup or added through the control plane update
	// only the broker's maps, so adapter fan-out resolves no aliases and
	// reaches only targets subscribed under the published channel name.
	adapterAliases := alias.New()
	adapters := []adapter.Adapter{
		adapter.NewMobile(repo, adapterAliases, repo.GetApp),
		adapter.NewWebhook(repo, adapterAliases),
		adapter.NewEmail(repo, adapterAliases, cfg, repo.GetApp),
		adapter.NewWebPush(repo, adapterAliases, repo.GetApp),
	}

	b := broker.New(repo, cfg, adapters...)
	ctx := context.Background()
	if err := b.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load broker state")
	}
	for _, a := range adapters {
		if err := a.Load(ctx); err != nil {
			log.Fatal().Err(err).Str("adapter", a.Name()).Msg("failed to load adapter subscriptions")
		}
	}

	mgr := wsconn.NewManager(cfg, b, b)
	b.AttachManager(mgr)

	jwtManager := auth.NewJWTManagerWithSessions(&auth.JWTConfig{
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		TokenDuration: cfg.TokenDuration,
	}, cacheClient)

	authHandler := auth.NewHandler(auth.AdminCredentials{
		AdminID:      "admin",
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
	}, jwtManager)

	controlHandler := httpapi.NewHandler(repo, b, jwtManager)
	appServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort),
		Handler: httpapi.NewAppRouter(mgr),
	}
	controlServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler: httpapi.NewControlRouter(controlHandler, authHandler, jwtManager),
	}

	go func() {
		log.Info().Str("addr", appServer.Addr).Msg("websocket server listening")
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("websocket server failed")
		}
	}()
	go func() {
		log.Info().Str("addr", controlServer.Addr).Msg("control plane listening")
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control plane server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := appServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("websocket server shutdown error")
	}
	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control plane shutdown error")
	}
}
