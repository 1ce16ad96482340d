package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"codesync/internal/api"
	"codesync/internal/auth"
	"codesync/internal/chat"
	"codesync/internal/collab"
	"codesync/internal/config"
	"codesync/internal/dispatch"
	"codesync/internal/hub"
	"codesync/internal/leaderboard"
	"codesync/internal/notify"
	"codesync/internal/presence"
	"codesync/internal/store"
	"codesync/internal/websocket"
	"codesync/pkg/interfaces"
)

// closer lets the application tear down the Redis client without caring
// which store backend is active.
type closer interface {
	Close() error
}

// Application wires all components in dependency order:
// Store → Auth → Registry → Coordinator → Services → Dispatcher → Hub →
// WebSocket handler → HTTP.
type Application struct {
	config      *config.Config
	storeCloser closer
	registry    *websocket.Registry
	coordinator *presence.Coordinator
	leaderboard *leaderboard.Engine
	eventHub    *hub.Hub
	httpServer  *http.Server
}

func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// An empty Redis address selects the in-process store. Presence and
	// fan-out then only cover this one instance.
	var (
		st          interfaces.Store
		bus         interfaces.Bus
		storeCloser closer
	)
	if cfg.Redis.Addr == "" {
		log.Println("No Redis address configured, using in-process store")
		mem := store.NewMemory()
		st, bus = mem, mem
	} else {
		rd, err := store.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		st, bus, storeCloser = rd, rd, rd
	}

	verifier := auth.NewHMACVerifier([]byte(cfg.Auth.Secret))

	registry := websocket.NewRegistry()

	coordinator := presence.NewCoordinator(st, bus, registry, cfg.Chat.TypingTTL)

	chatService := chat.NewService(st, coordinator, int64(cfg.Chat.HistoryLimit), cfg.Chat.Retention, cfg.Chat.EditWindow)
	collabManager := collab.NewManager(st, coordinator, cfg.Collab.SessionTTL)
	leaderboardEngine := leaderboard.NewEngine(st, coordinator, cfg.Leaderboard.StreamTopN)
	notifyService := notify.NewService(st, coordinator, int64(cfg.Notify.BacklogLimit), cfg.Notify.Retention)

	dispatcher := dispatch.NewDispatcher(coordinator, chatService, collabManager, leaderboardEngine, notifyService)

	eventHub := hub.NewHub(registry, dispatcher, coordinator, collabManager)

	wsHandler := websocket.NewHandler(verifier, eventHub, cfg.WebSocket.PingInterval, cfg.WebSocket.ReadTimeout)

	apiServer := api.NewServer(st, verifier, registry, leaderboardEngine, notifyService)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		storeCloser: storeCloser,
		registry:    registry,
		coordinator: coordinator,
		leaderboard: leaderboardEngine,
		eventHub:    eventHub,
		httpServer:  httpServer,
	}, nil
}

// Start brings the application up: coordinator subscriptions first so no
// published event is missed, then the hub, then the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting codesync on %s", app.httpServer.Addr)

	if err := app.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start presence coordinator: %w", err)
	}

	if err := app.eventHub.Start(ctx); err != nil {
		app.coordinator.Stop()
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	app.leaderboard.StartStreaming(ctx, app.config.Leaderboard.StreamInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.leaderboard.StopStreaming()
		_ = app.eventHub.Stop()
		_ = app.coordinator.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("codesync started successfully")
		return nil
	case <-ctx.Done():
		app.leaderboard.StopStreaming()
		_ = app.eventHub.Stop()
		_ = app.coordinator.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: HTTP → streaming → hub → coordinator
// → store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down codesync")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.leaderboard.StopStreaming()

	if err := app.eventHub.Stop(); err != nil {
		log.Printf("Event hub shutdown error: %v", err)
	}

	if err := app.coordinator.Stop(); err != nil {
		log.Printf("Presence coordinator shutdown error: %v", err)
	}

	if app.storeCloser != nil {
		if err := app.storeCloser.Close(); err != nil {
			log.Printf("Store shutdown error: %v", err)
		}
	}

	log.Printf("codesync shutdown complete")
	return nil
}

// GetAddr returns the HTTP listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
