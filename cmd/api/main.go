package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/app"
	"inkwell/api/internal/config"
	"inkwell/api/internal/logger"
	"inkwell/api/internal/presence"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New()
	defer log.Sync()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Info("using postgres for refresh token storage")
	}

	service := app.New(cfg, dataStore, sessions, log)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)

	hub := presence.NewHub(log)
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		docID := r.URL.Query().Get("documentId")
		if token == "" || docID == "" {
			http.Error(w, "missing token or documentId", http.StatusBadRequest)
			return
		}
		caller, err := service.CallerFromToken(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		// Membership gates the room; the role itself does not matter here,
		// a viewer's presence is as real as an editor's.
		if _, err := service.DocumentRole(r.Context(), docID, caller.UserID); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		presence.ServeWS(hub, w, r, docID, presence.Participant{
			UserID: caller.UserID,
			Name:   caller.Name,
			Email:  caller.Email,
		})
	})
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("inkwell api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}
