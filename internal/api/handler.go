// Package api exposes the memory system over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/agent"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/memory"
	"github.com/virek/engram/internal/metrics"
	"github.com/virek/engram/internal/store"
	"github.com/virek/engram/internal/tool"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service *memory.Service
	tools   *tool.Registry
	agents  *agent.Registry
	metrics *metrics.Manager
	logger  *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(service *memory.Service, tools *tool.Registry, agents *agent.Registry, mets *metrics.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		tools:   tools,
		agents:  agents,
		metrics: mets,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/tools", h.listTools)
		r.Post("/tools/{name}/call", h.callTool)
		r.Get("/stats", h.stats)

		r.Post("/memories", h.storeMemory)
		r.Get("/memories", h.listMemories)
		r.Get("/memories/{id}", h.getMemory)
		r.Delete("/memories/{id}", h.deleteMemory)
		r.Post("/search", h.search)
		r.Get("/users/{id}/insights", h.insights)
		r.Get("/lifecycle/{memoryID}", h.lifecycleStatus)

		r.Get("/agent-types", h.listAgentTypes)
		r.Post("/agent-types", h.registerAgentType)
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.createAgent)
		r.Delete("/agents/{id}", h.destroyAgent)
		r.Get("/agents/metrics", h.agentMetrics)
		r.Post("/tasks", h.routeTask)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tools.List())
}

func (h *Handler) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	args := make(map[string]any)
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	result, err := h.tools.Execute(r.Context(), name, args)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{
			"error":     err.Error(),
			"tool":      name,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":  h.tools.Stats(),
		"agents": h.agents.Metrics(),
	})
}

type storeRequest struct {
	UserID   string         `json:"user_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := h.service.StoreMemory(r.Context(), req.UserID, req.Content, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := h.service.GetMemory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filters{
		UserID: q.Get("user"),
		State:  q.Get("state"),
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			f.Limit = n
		}
	}
	mems, err := h.service.ListMemories(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mems)
}

func (h *Handler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMemory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type searchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp, err := h.service.SearchMemories(r.Context(), req.UserID, req.Query, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) insights(w http.ResponseWriter, r *http.Request) {
	ins, err := h.service.Insights(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (h *Handler) lifecycleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.LifecycleStatus(chi.URLParam(r, "memoryID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) listAgentTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.Types().List())
}

func (h *Handler) registerAgentType(w http.ResponseWriter, r *http.Request) {
	var t agent.Type
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	// Types registered over HTTP get no custom runner; they share the
	// generic acknowledgement runner and exist for capability routing.
	err := h.agents.Types().Register(t, func(ctx context.Context, task agent.Task) (any, error) {
		return map[string]any{"task_id": task.ID, "status": "accepted"}, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type createAgentRequest struct {
	Type string `json:"type"`
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	inst, err := h.agents.CreateAgent(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.agents.ActivateAgent(inst.ID); err != nil {
		writeError(w, err)
		return
	}
	info, _ := h.agents.Get(inst.ID)
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.List())
}

func (h *Handler) destroyAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.agents.DestroyAgent(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"destroyed": true})
}

func (h *Handler) agentMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.Metrics())
}

func (h *Handler) routeTask(w http.ResponseWriter, r *http.Request) {
	var task agent.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := h.agents.ExecuteTask(r.Context(), task)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  string(fault.KindOf(err)),
	})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindRateLimit:
		return http.StatusTooManyRequests
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
