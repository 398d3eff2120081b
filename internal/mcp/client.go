// Package mcp implements a client for MCP-style tool servers: JSON-RPC
// calls over HTTP with responses delivered on a server-sent event
// stream. Discovered tools are registered into the tool registry
// through the tool.RemoteSource contract.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/tool"
)

// ToolInfo describes a tool exposed by a remote server. The schema stays
// raw; the tool registry parses what it understands.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

// Client connects to one MCP server, discovers its tools, and invokes
// them. Safe for concurrent Call use after Connect returns.
type Client struct {
	name     string
	sseURL   string
	rpcURL   string
	http     *http.Client
	callWait time.Duration

	mu      sync.Mutex
	pending map[int64]chan rpcReply
	tools   []ToolInfo

	nextID atomic.Int64
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewClient creates a client for the given SSE endpoint.
func NewClient(name, sseURL string, logger *zap.Logger) *Client {
	return &Client{
		name:     name,
		sseURL:   sseURL,
		http:     &http.Client{},
		callWait: 30 * time.Second,
		pending:  make(map[int64]chan rpcReply),
		logger:   logger,
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// ListTools returns the tool listings discovered at Connect.
func (c *Client) ListTools() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// Connect opens the SSE stream, waits for the server to announce its
// JSON-RPC endpoint, starts the response reader, and fetches the tool
// list.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		return fmt.Errorf("mcp %s: build request: %w", c.name, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mcp %s: sse connect: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("mcp %s: sse status %d", c.name, resp.StatusCode)
	}

	endpoint, err := readEndpointEvent(resp.Body)
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("mcp %s: endpoint event: %w", c.name, err)
	}
	c.rpcURL = c.resolveURL(endpoint)
	c.logger.Info("mcp endpoint discovered",
		zap.String("server", c.name),
		zap.String("rpc", c.rpcURL))

	listenCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.listen(listenCtx, resp.Body)

	if err := c.fetchTools(ctx); err != nil {
		return fmt.Errorf("mcp %s: list tools: %w", c.name, err)
	}
	c.logger.Info("mcp tools discovered",
		zap.String("server", c.name),
		zap.Int("count", len(c.tools)))
	return nil
}

// readEndpointEvent scans SSE lines until the server announces where to
// POST JSON-RPC requests.
func readEndpointEvent(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event == "endpoint" {
				return strings.TrimPrefix(line, "data: "), nil
			}
		}
	}
	return "", fmt.Errorf("stream ended before endpoint event")
}

// resolveURL turns a relative endpoint path into an absolute URL rooted
// at the SSE address.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	idx := strings.LastIndex(c.sseURL, "/")
	if idx > len("https://") {
		return c.sseURL[:idx] + "/" + strings.TrimPrefix(path, "/")
	}
	return c.sseURL + "/" + strings.TrimPrefix(path, "/")
}

// listen reads the SSE stream and routes JSON-RPC responses to waiting
// callers.
func (c *Client) listen(ctx context.Context, body io.ReadCloser) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	var event string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event == "message" {
				c.dispatch([]byte(strings.TrimPrefix(line, "data: ")))
			}
			event = ""
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope struct {
		ID     int64           `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Debug("mcp: ignoring non-jsonrpc SSE data", zap.String("server", c.name))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[envelope.ID]
	if ok {
		delete(c.pending, envelope.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if envelope.Error != nil {
		ch <- rpcReply{err: fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)}
		return
	}
	ch <- rpcReply{result: envelope.Result}
}

// send posts a JSON-RPC request and waits for its response to arrive on
// the SSE stream.
func (c *Client) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcReply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	body, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		drop()
		return nil, fmt.Errorf("marshal rpc: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		drop()
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		drop()
		return nil, fmt.Errorf("send rpc: %w", err)
	}
	resp.Body.Close()

	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	case <-time.After(c.callWait):
		drop()
		return nil, fmt.Errorf("rpc timeout waiting for %s", method)
	}
}

func (c *Client) fetchTools(ctx context.Context) error {
	result, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var listing struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}
	c.mu.Lock()
	c.tools = listing.Tools
	c.mu.Unlock()
	return nil
}

// Tools adapts the discovered listings to the registry's remote-source
// contract.
func (c *Client) Tools() []tool.RemoteTool {
	infos := c.ListTools()
	out := make([]tool.RemoteTool, 0, len(infos))
	for _, info := range infos {
		out = append(out, tool.RemoteTool{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: info.InputSchema,
		})
	}
	return out
}

// Call invokes a remote tool. A single text content block comes back as
// its string; anything else comes back as decoded JSON.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := c.send(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	var content struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &content); err == nil && len(content.Content) > 0 {
		text := content.Content[0].Text
		if content.IsError {
			return nil, fmt.Errorf("call %s: %s", name, text)
		}
		return text, nil
	}

	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		return string(result), nil
	}
	return decoded, nil
}

// Close stops the SSE reader and fails any in-flight calls.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	for id, ch := range c.pending {
		ch <- rpcReply{err: fmt.Errorf("client closed")}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return nil
}
