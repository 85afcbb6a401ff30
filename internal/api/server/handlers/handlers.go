package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/rlorbach/business-ai-agent/internal/api/server/client"
	"github.com/rlorbach/business-ai-agent/internal/config"
	"github.com/rlorbach/business-ai-agent/internal/logger"
)

// DefaultSystemPrompt is used when a request carries no system prompt.
const DefaultSystemPrompt = "You are an expert assistant that provides concise, actionable, and professional recommendations. " +
	"For website requests return numbered technical improvements; for AI/business requests return numbered benefits tailored to the business type. " +
	"Keep replies short and use numbered bullets when listing items. " +
	"Avoid technical jargon and acronyms - use plain language that any business owner can understand."

var (
	errMissingPrompt = errors.New("missing prompt")
	errInvalidBody   = errors.New("invalid JSON body")
)

// badRequestMessage is the client facing text of a request validation error.
func badRequestMessage(err error) string {
	if errors.Is(err, errInvalidBody) {
		return "Invalid JSON body"
	}
	return "Missing prompt in request body"
}

type Handler struct {
	upstream client.Upstream
	cfg      config.Server
	upgrader websocket.Upgrader
}

func NewHandler(upstream client.Upstream, cfg config.Server) *Handler {
	return &Handler{
		upstream: upstream,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, client.HealthResponse{
		Status:    "ok",
		Message:   "AI Chat Widget Backend is running",
		Endpoints: []string{"/api/llm", "/api/llm-stream", "/ws"},
		Model:     h.cfg.Model,
	})
}

// decodeProxyRequest validates the shared request body of both HTTP routes.
func decodeProxyRequest(r *http.Request) (client.ProxyRequest, error) {
	var req client.ProxyRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errInvalidBody
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, errMissingPrompt
	}
	return req, nil
}

func (h *Handler) chatRequest(req client.ProxyRequest) *client.OpenAIChatRequest {
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return &client.OpenAIChatRequest{
		Model: h.cfg.Model,
		Messages: []client.OpenAIChatMessage{
			{Role: client.RoleSystem, Content: system},
			{Role: client.RoleUser, Content: req.Prompt},
		},
		MaxTokens: client.DefaultMaxTokens,
	}
}

func (h *Handler) responsesRequest(req client.ProxyRequest) *client.OpenAIResponsesRequest {
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return &client.OpenAIResponsesRequest{
		Model:           h.cfg.Model,
		Input:           req.Prompt,
		Instructions:    system,
		MaxOutputTokens: client.DefaultMaxTokens,
	}
}

// requireUpstreamKey reports a server misconfiguration when no upstream
// credential is set.
func (h *Handler) requireUpstreamKey(w http.ResponseWriter) bool {
	if h.cfg.OpenAIKey == "" {
		writeError(w, http.StatusInternalServerError, "OPENAI_API_KEY not configured on server")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.NewLogger("handlers").Error("Failed to encode response: ", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, client.ErrorResponse{Error: msg})
}
