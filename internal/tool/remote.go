package tool

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/fault"
)

// RemoteTool is a tool listing discovered from a remote server.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// RemoteSource lists callable tools hosted elsewhere, typically an MCP
// server.
type RemoteSource interface {
	Tools() []RemoteTool
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// Defaults fills in limits for tools whose remote listings declare none.
type Defaults struct {
	RateLimit RateLimit
	Timeout   time.Duration
	Retry     RetryPolicy
}

// RegisterRemote bridges every tool from src into the registry, under
// the same rate-limit, timeout, and retry enforcement as local tools.
// Tools whose schemas cannot be read are skipped, not fatal. Returns the
// number registered.
func RegisterRemote(reg *Registry, src RemoteSource, defaults Defaults, logger *zap.Logger) int {
	registered := 0
	for _, rt := range src.Tools() {
		var schema Schema
		if len(rt.InputSchema) > 0 {
			if err := json.Unmarshal(rt.InputSchema, &schema); err != nil {
				logger.Warn("skipping remote tool with unreadable schema",
					zap.String("tool", rt.Name),
					zap.Error(err))
				continue
			}
		}

		name := rt.Name
		spec := Spec{
			Name:        name,
			Description: rt.Description,
			Schema:      schema,
			RateLimit:   defaults.RateLimit,
			Timeout:     defaults.Timeout,
			Retry:       defaults.Retry,
		}
		err := reg.Register(spec, func(ctx context.Context, args map[string]any) (any, error) {
			res, err := src.Call(ctx, name, args)
			if err != nil {
				return nil, fault.Wrap(fault.KindProvider, err, "remote tool %q", name)
			}
			return res, nil
		})
		if err != nil {
			logger.Warn("remote tool not registered",
				zap.String("tool", name),
				zap.Error(err))
			continue
		}
		registered++
	}
	return registered
}
