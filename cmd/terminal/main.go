package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mesapos/mesaposgo/internal/config"
	"github.com/mesapos/mesaposgo/internal/database"
	"github.com/mesapos/mesaposgo/internal/handlers"
	"github.com/mesapos/mesaposgo/internal/localstore"
	"github.com/mesapos/mesaposgo/internal/models"
	"github.com/mesapos/mesaposgo/internal/remote"
	enginesync "github.com/mesapos/mesaposgo/internal/sync"
	"github.com/mesapos/mesaposgo/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		// Business tables
		&models.Order{},
		&models.OrderItem{},
		&models.InventoryItem{},
		&models.MenuItem{},
		&models.LoyaltyLedgerEntry{},

		// Sync tables
		&models.MutationEntry{},
		&models.IdempotencyRecord{},
		&models.ReconciliationCursor{},
		&models.SyncFailure{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Sync engine
	log.Println("🔄 Initializing Sync Engine...")
	syncCfg := config.LoadSyncConfig()

	store := localstore.NewStore(db)
	client := remote.NewClient(cfg.Remote, cfg.TerminalID, cfg.BusinessID)

	hub := websocket.NewHub()
	go hub.Run()

	engine := enginesync.NewEngine(cfg, syncCfg, store, client, hub)
	if err := engine.Start(); err != nil {
		log.Printf("⚠️ Sync Engine: Failed to start: %v", err)
	}

	// 5. Set up HTTP router
	router := handlers.NewRouter(db, engine, hub)

	// 6. Start server with graceful shutdown
	port := cfg.Port
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = envPort
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Terminal %s starting on port %s (business %s)\n", cfg.TerminalID, port, cfg.BusinessID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop sync engine (waits for in-flight pushes)
	engine.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
