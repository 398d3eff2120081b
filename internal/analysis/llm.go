package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/fault"
)

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	Timeout  time.Duration
}

// LLM implements Provider against an OpenAI-compatible chat API. Each
// method sends a JSON-instructed prompt and decodes the model's JSON
// reply; any transport or decode failure surfaces as a provider fault.
type LLM struct {
	config LLMConfig
	client *http.Client
	logger *zap.Logger
}

// NewLLM creates an LLM-backed provider.
func NewLLM(cfg LLMConfig, logger *zap.Logger) *LLM {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &LLM{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

const analyzePrompt = `You are a semantic analysis engine for a memory system.
Analyze the user content and respond with ONLY a JSON object:
{"entities":[{"name":"...","type":"person|place|organization|thing|other"}],
"relationships":[{"from":"...","to":"...","relation":"..."}],
"sentiment":"positive|negative|neutral",
"importance":{"score":1-10,"reasoning":"..."},
"temporal_context":"past|present|future|none",
"intent":"statement|question|preference|fact|other",
"concepts":["..."]}`

// Analyze extracts entities, sentiment, importance, and concepts.
func (p *LLM) Analyze(ctx context.Context, content, userID string) (*Result, error) {
	raw, err := p.complete(ctx, analyzePrompt,
		fmt.Sprintf("User %s said: %s", userID, content))
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "analysis: unusable analyze payload")
	}
	if result.Importance.Score < 1 {
		result.Importance.Score = 1
	}
	if result.Importance.Score > 10 {
		result.Importance.Score = 10
	}
	return &result, nil
}

const similarityPrompt = `You compare two pieces of stored content.
Respond with ONLY a JSON object:
{"overall_similarity":0.0-1.0,
"breakdown":{"semantic":0.0-1.0,"entities":0.0-1.0,"temporal":0.0-1.0},
"recommended_action":"merge|update|keep_separate",
"merge_strategy":"..."}`

// Similarity scores the overlap between two contents in [0,1].
func (p *LLM) Similarity(ctx context.Context, a, b string) (*SimilarityResult, error) {
	raw, err := p.complete(ctx, similarityPrompt,
		fmt.Sprintf("Content A: %s\n\nContent B: %s", a, b))
	if err != nil {
		return nil, err
	}

	var result SimilarityResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "analysis: unusable similarity payload")
	}
	if result.OverallSimilarity < 0 || result.OverallSimilarity > 1 {
		return nil, fault.Provider("analysis: similarity %v outside [0,1]", result.OverallSimilarity)
	}
	return &result, nil
}

const intentPrompt = `You classify memory search queries.
Respond with ONLY a JSON object:
{"intent_type":"recall|lookup|aggregate|exploratory",
"entities_sought":["..."],
"temporal_scope":"recent|all|specific",
"search_strategy":"semantic|keyword|hybrid"}`

// SearchIntent classifies what a search query is after.
func (p *LLM) SearchIntent(ctx context.Context, query, userID string) (*IntentResult, error) {
	raw, err := p.complete(ctx, intentPrompt,
		fmt.Sprintf("User %s searches for: %s", userID, query))
	if err != nil {
		return nil, err
	}

	var result IntentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "analysis: unusable intent payload")
	}
	return &result, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete runs one chat round and returns the reply stripped down to
// its JSON object.
func (p *LLM) complete(ctx context.Context, system, user string) (json.RawMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "analysis: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "analysis: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "analysis: send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fault.Provider("analysis: API error %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "analysis: decode response")
	}
	if len(decoded.Choices) == 0 {
		return nil, fault.Provider("analysis: empty response from provider")
	}

	return extractJSON(decoded.Choices[0].Message.Content)
}

// extractJSON pulls the JSON object out of a model reply, tolerating
// code fences and surrounding prose.
func extractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fault.Provider("analysis: no JSON object in reply")
	}
	return json.RawMessage(trimmed[start : end+1]), nil
}
