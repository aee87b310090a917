package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/rail-mind/railmind/internal/api"
	"github.com/rail-mind/railmind/internal/db"
	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/rail/monitor"
)

// buildHandler assembles the full HTTP surface: the JSON API and
// websocket feed, the history admin routes, and the echarts dashboard,
// all behind the request logging middleware. database may be nil when
// history is disabled.
func buildHandler(sys *rail.System, database *db.DB) http.Handler {
	server := api.NewServer(sys, database)
	mux := server.ServeMux()

	if database != nil {
		database.AttachAdminRoutes(mux)
	}
	monitor.NewDashboard(sys, database).AttachRoutes(mux)

	return api.LoggingMiddleware(mux)
}

// serveHTTP runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully, force-closing if the drain exceeds its deadline.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
}
