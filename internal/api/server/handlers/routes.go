package handlers

import (
	"net/http"
)

// Routes registers every relay endpoint and wraps them in CORS handling.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.StatusHandler)
	mux.Handle("POST /api/llm", h.RequireProxyAuth(http.HandlerFunc(h.LLMHandler)))
	mux.Handle("POST /api/llm-stream", h.RequireProxyAuth(http.HandlerFunc(h.LLMStreamHandler)))
	mux.HandleFunc("GET /ws", h.SocketHandler)
	return h.CORS(mux)
}
