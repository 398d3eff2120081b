// Package embedding turns text into vectors. Three providers ship: an
// OpenAI-compatible API, an Ollama endpoint, and a deterministic
// feature-hash embedder that needs no network at all.
package embedding

import (
	"context"
	"time"

	"github.com/virek/engram/internal/fault"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config selects and configures a provider.
type Config struct {
	Provider  string `json:"provider"` // api, ollama, hash
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	Timeout   time.Duration
}

// New builds the configured provider. An empty provider name falls back
// to the hash embedder so the system boots without any embedding
// service running.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "api":
		return NewAPI(cfg), nil
	case "ollama", "local":
		return NewOllama(cfg), nil
	case "hash", "":
		return NewHash(cfg.Dimension), nil
	default:
		return nil, fault.Validation("embedding: unknown provider %q", cfg.Provider)
	}
}
