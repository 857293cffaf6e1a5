/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the order desk report server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and build the Config
  2. Apply command-line flag overrides
  3. Initialize the SQLite store
  4. Wire the controller, dispatcher, and proxy clients
  5. Start the in-process poller when enabled
  6. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides ORDERDESK_DB)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the poller
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database connection

SEE ALSO:
  - config/config.go: the environment surface
  - api/server.go: router configuration
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

	"github.com/warp/orderdesk/api"
	"github.com/warp/orderdesk/config"
	"github.com/warp/orderdesk/identity"
	"github.com/warp/orderdesk/mail"
	"github.com/warp/orderdesk/orderbook"
	"github.com/warp/orderdesk/store/sqlite"
	"github.com/warp/orderdesk/sumsub"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()

	// Flags override the environment
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire dependencies
	dispatcher := mail.New(cfg.ResendAPIKey, cfg.EmailFrom, cfg.EmailTo)
	controller := orderbook.NewController(
		store, store, dispatcher,
		cfg.Location(), cfg.TargetHour, cfg.TargetMinute, cfg.Incremental,
	)
	kyc := sumsub.New(cfg.SumsubBaseURL, cfg.SumsubAppToken, cfg.SumsubAppSecret)
	verifier := identity.New(cfg.AuthBaseURL, cfg.AuthAPIKey)

	handler := api.NewHandler(store, controller, dispatcher, kyc, verifier, cfg)
	router := api.NewRouter(handler)

	// Optional in-process poller
	poller := api.NewPoller(controller)
	poller.Enabled = cfg.PollerEnabled
	poller.Start()
	defer poller.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("Daily cutoff: %02d:%02d %s", cfg.TargetHour, cfg.TargetMinute, cfg.Timezone)
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
