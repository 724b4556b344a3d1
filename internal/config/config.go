// Package config provides configuration management for the Nate assistant.
// It loads settings from environment variables with the NATE_ prefix, with
// sensible defaults for every option, and optionally overlays a YAML config
// file (NATE_CONFIG path, or nate.yaml in the working directory).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPreamble is the system instruction used when no persona preamble
// is configured. User turns arrive as "username: message" so the model can
// tell speakers apart.
const DefaultPreamble = `You are an AI assistant, your name is Nate.
You receive messages in the format "username: message", which is used to
identify who is speaking to you. Be concise and follow user instructions.
You may respond differently depending on which user speaks to you.`

// Config holds all configuration settings for the Nate server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Speech  SpeechConfig  `yaml:"speech"`
	Speaker SpeakerConfig `yaml:"speaker"`
	Persona PersonaConfig `yaml:"persona"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 8000)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the storage backend: sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database files
	// (default: ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig contains language model provider configuration.
type LLMConfig struct {
	Provider        string        `yaml:"provider"`          // ollama, openai, anthropic (default: ollama)
	OllamaURL       string        `yaml:"ollama_url"`        // Ollama API URL (default: http://localhost:11434)
	OllamaModel     string        `yaml:"ollama_model"`      // Ollama model name (default: gemma3:1b-it-qat)
	OpenAIAPIKey    string        `yaml:"openai_api_key"`    // OpenAI API key
	OpenAIModel     string        `yaml:"openai_model"`      // OpenAI model name (default: gpt-4o-mini)
	OpenAIBaseURL   string        `yaml:"openai_base_url"`   // OpenAI-compatible base URL
	AnthropicAPIKey string        `yaml:"anthropic_api_key"` // Anthropic API key
	AnthropicModel  string        `yaml:"anthropic_model"`   // Anthropic model name
	Timeout         time.Duration `yaml:"timeout"`           // Per-call timeout (default: 60s)
}

// SpeechConfig contains speech-pipeline sidecar configuration.
type SpeechConfig struct {
	SidecarURL string        `yaml:"sidecar_url"` // Sidecar base URL (default: http://localhost:8090)
	Timeout    time.Duration `yaml:"timeout"`     // Per-call timeout (default: 120s)
}

// SpeakerConfig contains speaker-matching policy configuration.
type SpeakerConfig struct {
	// MinConfidence is the similarity floor below which a match is
	// reported as "unknown". 0 disables the floor (default: 0).
	MinConfidence float64 `yaml:"min_confidence"`
}

// PersonaConfig contains the assistant persona.
type PersonaConfig struct {
	// Name is the assistant's display name (default: Nate).
	Name string `yaml:"name"`

	// Preamble is the system instruction injected ahead of every
	// conversation (default: DefaultPreamble).
	Preamble string `yaml:"preamble"`
}

// LoadConfig loads configuration from environment variables, then overlays
// the YAML config file when one exists. All environment variables use the
// NATE_ prefix; file values take precedence over environment values.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	path := resolveConfigFile()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// resolveConfigFile finds the YAML config path, if any. The explicit
// NATE_CONFIG env var wins; otherwise nate.yaml in the working directory is
// used when present.
func resolveConfigFile() string {
	if path := os.Getenv("NATE_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("nate.yaml"); err == nil {
		return "nate.yaml"
	}
	return ""
}

// buildBaseConfig constructs a Config from environment variables and
// defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("NATE_PORT", 8000),
			Host: getEnv("NATE_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			Engine:      getEnv("NATE_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("NATE_DATA_PATH", "./data"),
			PostgresDSN: getEnv("NATE_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:        getEnv("NATE_LLM_PROVIDER", "ollama"),
			OllamaURL:       getEnv("NATE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:     getEnv("NATE_OLLAMA_MODEL", "gemma3:1b-it-qat"),
			OpenAIAPIKey:    getEnv("NATE_OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("NATE_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:   getEnv("NATE_OPENAI_BASE_URL", ""),
			AnthropicAPIKey: getEnv("NATE_ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("NATE_ANTHROPIC_MODEL", ""),
			Timeout:         getEnvDuration("NATE_LLM_TIMEOUT", 60*time.Second),
		},
		Speech: SpeechConfig{
			SidecarURL: getEnv("NATE_SPEECH_URL", "http://localhost:8090"),
			Timeout:    getEnvDuration("NATE_SPEECH_TIMEOUT", 120*time.Second),
		},
		Speaker: SpeakerConfig{
			MinConfidence: getEnvFloat("NATE_SPEAKER_MIN_CONFIDENCE", 0),
		},
		Persona: PersonaConfig{
			Name:     getEnv("NATE_PERSONA_NAME", "Nate"),
			Preamble: getEnv("NATE_PREAMBLE", DefaultPreamble),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparsable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value when unset or unparsable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "90s") or returns a default value when unset or unparsable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
