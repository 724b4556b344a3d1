// Package server provides HTTP server initialization and lifecycle
// management for the Nate assistant.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/nate-ai/nate/internal/config"
	"github.com/nate-ai/nate/internal/server/handlers"
)

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0). The hub carries session event broadcasts to /ws clients and is
// stopped with the server. The server shuts down gracefully when ctx is
// cancelled.
func Start(ctx context.Context, cfg *config.Config, service handlers.Service, wsHub *handlers.WebSocketHub) (string, error) {
	mux := http.NewServeMux()

	go wsHub.Run()

	// Create rate limiter (10 req/sec, burst of 20)
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	api := handlers.NewAPIHandlers(service)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		api.Index(w, r)
	})
	mux.HandleFunc("/healthz", api.Health)
	mux.HandleFunc("/messages/enroll", postOnly(api.Enroll))
	mux.HandleFunc("/messages/ask", postOnly(api.Ask))
	mux.HandleFunc("/remove", postOnly(api.Remove))
	mux.HandleFunc("/audio/transcribe", postOnly(api.Transcribe))
	mux.HandleFunc("/audio/enroll", postOnly(api.AudioEnroll))
	mux.HandleFunc("/audio/transcribe_identify", postOnly(api.TranscribeIdentify))

	// WebSocket endpoint (origin validation happens during the upgrade)
	mux.Handle("/ws", wsHub)

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.SecurityHeaders(handler)

	// Create server with security timeouts. WriteTimeout has headroom for
	// slow provider and diarization calls.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, nil
}

// postOnly rejects non-POST requests with 405.
func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
