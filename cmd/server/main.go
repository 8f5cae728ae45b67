/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Seva Counter server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize SQLite store
  3. Load the seva catalog
  4. Wire domain services (slots, payments, bookings, settlements)
  5. Start the lock sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: counter.db)
            Use ":memory:" for in-memory database
  -catalog  Seva catalog JSON path (default: catalog.json)

ENVIRONMENT:
  PORT, DB_PATH, CATALOG_PATH override defaults; flags win over both.
  Loaded from .env when present.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the lock sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/counter.db" -catalog="./config/catalog.json"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/devasthan/seva-counter/api"
	"github.com/devasthan/seva-counter/counter"
	"github.com/devasthan/seva-counter/store/sqlite"
)

func main() {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "counter.db"), "SQLite database path")
	catalogPath := flag.String("catalog", envStr("CATALOG_PATH", "catalog.json"), "Seva catalog JSON path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Load the seva catalog
	catalog, err := loadCatalog(*catalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	log.Printf("Loaded %d sevas from %s", len(catalog), *catalogPath)

	// Wire domain services
	cfg := counter.DefaultConfig()
	audit := counter.NewTrail(store)
	slots := counter.NewSlotManager(store, audit, cfg)
	payments := counter.NewPaymentReconciler(store)
	bookings := counter.NewBookingService(store, slots, payments, audit, catalog, cfg)
	settlements := counter.NewSettlementService(store, payments, audit)

	// Background sweeper for expired reservation locks
	sweeper := api.NewLockSweeper(slots, cfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	// Create router and server
	handler := api.NewHandler(bookings, slots, settlements, payments, catalog)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Seva counter server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// loadCatalog reads the static seva master data. Catalog edits require a
// restart; live master-data management is a separate admin system.
func loadCatalog(path string) (counter.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var masters []counter.SevaMaster
	if err := json.Unmarshal(data, &masters); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}

	catalog := make(counter.Catalog, len(masters))
	for _, m := range masters {
		catalog[m.ID] = m
	}
	return catalog, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
