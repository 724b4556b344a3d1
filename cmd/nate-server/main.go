// cmd/nate-server is the entry point for the Nate assistant server.
//
// Startup sequence:
//  1. Load configuration from environment variables (and optional YAML).
//  2. Open the storage backend (three SQLite databases, or one Postgres).
//  3. Build the chat provider and the speech pipeline client.
//  4. Assemble the session orchestrator.
//  5. Serve HTTP until SIGINT / SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nate-ai/nate/internal/config"
	"github.com/nate-ai/nate/internal/llm"
	"github.com/nate-ai/nate/internal/server"
	"github.com/nate-ai/nate/internal/server/handlers"
	"github.com/nate-ai/nate/internal/session"
	"github.com/nate-ai/nate/internal/speech"
	"github.com/nate-ai/nate/internal/storage"
	"github.com/nate-ai/nate/internal/storage/postgres"
	"github.com/nate-ai/nate/internal/storage/sqlite"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("nate-server: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	identities, conversations, profiles, closeStores, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer closeStores()

	provider, err := llm.NewChatProvider(providerConfig(cfg))
	if err != nil {
		log.Fatalf("failed to create chat provider: %v", err)
	}

	pipeline := speech.NewClient(speech.ClientConfig{
		BaseURL: cfg.Speech.SidecarURL,
		Timeout: cfg.Speech.Timeout,
	})

	// Set up a root context that is cancelled on SIGINT / SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	// The hub exists before the orchestrator so session events can flow to
	// WebSocket observers from the first request.
	hub := handlers.NewWebSocketHub()

	orchestrator := session.New(session.Config{
		Identities:    identities,
		Conversations: conversations,
		Profiles:      profiles,
		Pipeline:      pipeline,
		Provider:      provider,
		Preamble:      cfg.Persona.Preamble,
		MinConfidence: cfg.Speaker.MinConfidence,
		Notify: func(ev session.Event) {
			hub.Broadcast(ev)
		},
	})

	addr, err := server.Start(ctx, cfg, orchestrator, hub)
	if err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	log.Printf("%s listening on %s (storage=%s, llm=%s, model=%s)",
		cfg.Persona.Name, addr, cfg.Storage.Engine, cfg.LLM.Provider, provider.GetModel())

	<-ctx.Done()
	log.Println("shutting down")
}

// openStorage opens the configured backend and returns the three stores
// plus a close function releasing all of them.
func openStorage(cfg *config.Config) (storage.IdentityStore, storage.ConversationStore, storage.ProfileStore, func(), error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				log.Printf("storage close error: %v", err)
			}
		}
		return store, store, store, closeFn, nil

	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to create data directory %q: %w", cfg.Storage.DataPath, err)
		}

		identities, err := sqlite.NewIdentityStore(fmt.Sprintf("%s/identities.db", cfg.Storage.DataPath))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		conversations, err := sqlite.NewConversationStore(fmt.Sprintf("%s/conversations.db", cfg.Storage.DataPath))
		if err != nil {
			_ = identities.Close()
			return nil, nil, nil, nil, err
		}
		profiles, err := sqlite.NewProfileStore(fmt.Sprintf("%s/profiles.db", cfg.Storage.DataPath))
		if err != nil {
			_ = identities.Close()
			_ = conversations.Close()
			return nil, nil, nil, nil, err
		}

		closeFn := func() {
			for _, c := range []interface{ Close() error }{profiles, conversations, identities} {
				if err := c.Close(); err != nil {
					log.Printf("storage close error: %v", err)
				}
			}
		}
		return identities, conversations, profiles, closeFn, nil

	default:
		return nil, nil, nil, nil, fmt.Errorf("unsupported storage engine: %q", cfg.Storage.Engine)
	}
}

// providerConfig maps the loaded configuration onto the active backend's
// provider settings.
func providerConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		Timeout:  cfg.LLM.Timeout,
	}
	switch cfg.LLM.Provider {
	case "openai":
		pc.BaseURL = cfg.LLM.OpenAIBaseURL
		pc.Model = cfg.LLM.OpenAIModel
		pc.APIKey = cfg.LLM.OpenAIAPIKey
	case "anthropic":
		pc.Model = cfg.LLM.AnthropicModel
		pc.APIKey = cfg.LLM.AnthropicAPIKey
	default:
		pc.BaseURL = cfg.LLM.OllamaURL
		pc.Model = cfg.LLM.OllamaModel
	}
	return pc
}
