package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/virek/engram/internal/fault"
)

// Ollama implements Provider against an Ollama embeddings endpoint,
// which only takes one prompt per request.
type Ollama struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client

	once     sync.Once
	observed int
}

// NewOllama creates an Ollama provider.
func NewOllama(cfg Config) *Ollama {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Ollama{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests one vector per text, sequentially.
func (p *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	if len(vectors[0]) > 0 {
		p.once.Do(func() { p.observed = len(vectors[0]) })
	}
	return vectors, nil
}

func (p *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fault.Provider("embedding: ollama error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: decode response")
	}
	return decoded.Embedding, nil
}

// Dimension reports the vector size: observed from the first result, or
// the configured value until then.
func (p *Ollama) Dimension() int {
	if p.observed > 0 {
		return p.observed
	}
	return p.dimension
}
