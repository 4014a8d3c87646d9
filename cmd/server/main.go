package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chat-core/internal/auth"
	"chat-core/internal/bus"
	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/handlers"
	"chat-core/internal/presence"
	"chat-core/internal/services"
	"chat-core/internal/telemetry"
	"chat-core/internal/websocket"
	"chat-core/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn("Invalid LOG_LEVEL %q: %v", cfg.Log.Level, err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to set up telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry flush: %v", err)
		}
	}()
	if cfg.Telemetry.Active() {
		logger.Info("Exporting traces and metrics to %s", cfg.Telemetry.Endpoint)
	}

	// Initialize database
	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	registry := openPresence(ctx, cfg.Redis)

	eventBus, err := openBus(cfg.NATS)
	if err != nil {
		logger.Fatal("Failed to connect to NATS: %v", err)
	}
	defer eventBus.Close()

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	conversationService := services.NewConversationService(db)

	hub := websocket.NewHub(registry, eventBus, websocket.Options{
		SendBuffer:      cfg.Gateway.SendBuffer,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
		PingInterval:    cfg.Gateway.PingInterval,
		PongWait:        cfg.Gateway.PongWait,
		Checker:         conversationService,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.Run(ctx); err != nil {
			logger.Fatal("Gateway stopped: %v", err)
		}
	}()

	// Initialize handlers
	routes := handlers.Routes{
		Auth:          handlers.NewAuthHandlers(authService),
		Conversations: handlers.NewConversationHandlers(conversationService, authService),
		Presence:      handlers.NewPresenceHandlers(registry),
		WebSocket:     handlers.NewWebSocketHandlers(authService, hub),
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handlers.CORS(routes.Mux()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
	<-hubDone
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (database.Database, error) {
	if cfg.InMemory() {
		db := database.NewMemoryDB()
		if err := db.SeedUsers(cfg.SeedUsers); err != nil {
			return nil, err
		}
		logger.Warn("Using in-memory database, data is lost on exit")
		return db, nil
	}

	db, err := database.NewPostgresDB(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// openPresence mirrors presence into Redis when configured so every gateway
// node sees the same online set.
func openPresence(ctx context.Context, cfg config.RedisConfig) presence.Registry {
	local := presence.NewMemoryRegistry()
	if cfg.Addr == "" {
		return local
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable at %s, presence stays local: %v", cfg.Addr, err)
		rdb.Close()
		return local
	}

	registry := presence.NewRedisRegistry(local, rdb, cfg.PresenceTTL)
	go registry.Run(ctx)
	logger.Info("Presence mirrored to Redis at %s", cfg.Addr)
	return registry
}

func openBus(cfg config.NATSConfig) (bus.Bus, error) {
	if cfg.URL == "" {
		return bus.NewLocalBus(), nil
	}
	b, err := bus.NewNATSBus(bus.NATSConfig{
		URL:     cfg.URL,
		Subject: cfg.Subject,
		Name:    "chat-core-gateway",
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Gateway events routed through NATS subject %s", cfg.Subject)
	return b, nil
}
