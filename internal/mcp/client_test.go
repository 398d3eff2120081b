package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeServer speaks just enough of the protocol: an SSE stream that
// announces the RPC endpoint and then carries JSON-RPC responses.
type fakeServer struct {
	responses chan string
}

func newFakeServer() (*httptest.Server, *fakeServer) {
	f := &fakeServer{responses: make(chan string, 8)}
	mux := http.NewServeMux()

	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "no flush", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /rpc\n\n")
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case resp := <-f.responses:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", resp)
				flusher.Flush()
			}
		}
	})

	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64          `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch req.Method {
		case "tools/list":
			f.responses <- fmt.Sprintf(
				`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"remote_echo","description":"echoes","inputSchema":{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}}]}}`,
				req.ID)
		case "tools/call":
			args, _ := req.Params["arguments"].(map[string]any)
			text, _ := args["text"].(string)
			f.responses <- fmt.Sprintf(
				`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"echoed: %s"}]}}`,
				req.ID, text)
		default:
			f.responses <- fmt.Sprintf(
				`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"unknown method"}}`,
				req.ID)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return httptest.NewServer(mux), f
}

func TestClientDiscoversAndCallsTools(t *testing.T) {
	srv, _ := newFakeServer()
	defer srv.Close()

	c := NewClient("test", srv.URL+"/sse", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tools := c.ListTools()
	if len(tools) != 1 || tools[0].Name != "remote_echo" {
		t.Fatalf("ListTools = %+v, want one remote_echo", tools)
	}

	remotes := c.Tools()
	if len(remotes) != 1 || remotes[0].Name != "remote_echo" {
		t.Fatalf("Tools = %+v, want one remote_echo", remotes)
	}
	if len(remotes[0].InputSchema) == 0 {
		t.Errorf("remote tool lost its schema")
	}

	res, err := c.Call(ctx, "remote_echo", map[string]any{"text": "pizza"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res != "echoed: pizza" {
		t.Fatalf("Call result = %v, want %q", res, "echoed: pizza")
	}
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	srv, _ := newFakeServer()
	defer srv.Close()

	c := NewClient("test", srv.URL+"/sse", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := c.send(ctx, "nope/nothing", nil); err == nil {
		t.Fatalf("send to unknown method succeeded, want rpc error")
	}
}
