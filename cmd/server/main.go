package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dropstage/dropstage/backend-go/internal/asset"
	"github.com/dropstage/dropstage/backend-go/internal/compose"
	"github.com/dropstage/dropstage/backend-go/internal/config"
	mw "github.com/dropstage/dropstage/backend-go/internal/middleware"
	"github.com/dropstage/dropstage/backend-go/internal/session"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assetHandler := asset.NewHandler(cfg.AssetDir)

	composer := compose.New(cfg.ComposeAPIURL, cfg.ComposeAPIKey, time.Duration(cfg.ComposeTimeout)*time.Second)

	sessionService := session.NewService(composer, assetHandler, time.Duration(cfg.SessionTTL)*time.Minute)
	sessionHandler := session.NewHandler(sessionService)

	hub := session.NewHub()
	sessionService.SetNotifier(hub)
	go hub.Run()
	go sessionService.RunJanitor(ctx)

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.AllowedOrigins))

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Asset endpoints
	r.HandleFunc("/assets/upload", assetHandler.Upload).Methods("POST", "OPTIONS")
	r.HandleFunc("/assets/defaults", assetHandler.Defaults).Methods("GET")
	r.PathPrefix("/assets/").Handler(assetHandler.Serve()).Methods("GET")

	// Session API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}", sessionHandler.Delete).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/product", sessionHandler.SetProduct).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/rotation", sessionHandler.SetRotation).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/place", sessionHandler.Place).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/undo", sessionHandler.Undo).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/redo", sessionHandler.Redo).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/reset", sessionHandler.Reset).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/states/{index}/image", sessionHandler.StateImage).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/states/{index}/thumbnail", sessionHandler.StateThumbnail).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/states/{index}/debug", sessionHandler.DebugImage).Methods("GET")

	// WebSocket endpoint for live state updates
	r.HandleFunc("/ws/session/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, hub, sessionService)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request, hub *session.Hub, svc *session.Service) {
	vars := mux.Vars(r)
	sessionID := vars["sessionId"]

	// The session must exist before a watcher can attach.
	if _, err := svc.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:5173", "localhost:3000"},
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := session.NewClient(hub, conn, sessionID, clientID)

	hub.Register(client)

	ctx := r.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}
