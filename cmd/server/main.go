/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fleet earnings engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Start the payday scheduler (optional)
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: fleet.db)
              Use ":memory:" for in-memory database
  -inception  Organization-wide cycle start for never-paid workers,
              YYYY-MM-DD (default: 2024-01-01)
  -scheduler  Enable the payday scheduler (default: true)
  -autopay    Let the scheduler settle due workers itself (default: false)

ENVIRONMENT:
  Flags take their defaults from the environment when set (loaded via
  .env if present): PORT, DB_PATH, INCEPTION_DATE.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Stop the payday scheduler
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/fleet.db"

  # Run with in-memory database and auto-pay
  ./server -db=":memory:" -autopay

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tidewater/fleet-engine/api"
	"github.com/tidewater/fleet-engine/engine"
	"github.com/tidewater/fleet-engine/store/sqlite"
)

func main() {
	// Optional .env for local development; flags still win.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "fleet.db"), "SQLite database path")
	inceptionStr := flag.String("inception", envStr("INCEPTION_DATE", "2024-01-01"), "cycle start for never-paid workers (YYYY-MM-DD)")
	schedulerOn := flag.Bool("scheduler", true, "enable the payday scheduler")
	autoPay := flag.Bool("autopay", false, "scheduler settles due workers automatically")
	flag.Parse()

	inceptionDate, err := time.Parse("2006-01-02", *inceptionStr)
	if err != nil {
		log.Fatalf("Invalid -inception date %q: %v", *inceptionStr, err)
	}
	inception := engine.TimePoint{Time: inceptionDate.UTC()}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler and router
	handler := api.NewHandler(store, inception)
	router := api.NewRouter(handler)

	// Payday scheduler
	scheduler := api.NewPaydayScheduler(handler)
	scheduler.Enabled = *schedulerOn
	scheduler.AutoPay = *autoPay
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
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

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
