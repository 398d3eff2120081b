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

// API implements Provider against an OpenAI-compatible embeddings
// endpoint. Batches go up in one request.
type API struct {
	endpoint  string
	model     string
	apiKey    string
	dimension int
	client    *http.Client

	once     sync.Once
	observed int
}

// NewAPI creates an API provider.
func NewAPI(cfg Config) *API {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &API{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends texts to the endpoint in one batch.
func (p *API) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(apiRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fault.Provider("embedding: API error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "embedding: decode response")
	}
	if len(decoded.Data) != len(texts) {
		return nil, fault.Provider("embedding: got %d vectors for %d texts", len(decoded.Data), len(texts))
	}

	vectors := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		vectors[i] = d.Embedding
	}
	if len(vectors[0]) > 0 {
		p.once.Do(func() { p.observed = len(vectors[0]) })
	}
	return vectors, nil
}

// Dimension reports the vector size: observed from the first result, or
// the configured value until then.
func (p *API) Dimension() int {
	if p.observed > 0 {
		return p.observed
	}
	return p.dimension
}
