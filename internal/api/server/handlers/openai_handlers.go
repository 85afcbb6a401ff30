package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/rlorbach/business-ai-agent/internal/api/server/client"
	"github.com/rlorbach/business-ai-agent/internal/logger"
	"github.com/rlorbach/business-ai-agent/internal/stream"
)

// LLMHandler answers with the complete assistant reply in one JSON body.
func (h *Handler) LLMHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("llm handler")
	if !h.requireUpstreamKey(w) {
		return
	}

	req, err := decodeProxyRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, badRequestMessage(err))
		return
	}

	body, err := h.upstream.Complete(r.Context(), h.chatRequest(req))
	if err != nil {
		localLogger.Error("LLM proxy error: ", err)
		writeError(w, http.StatusBadGateway, upstreamMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, client.AssistantResponse{Assistant: client.AssistantText(body)})
}

// LLMStreamHandler relays assistant deltas as a chunked plain text stream.
func (h *Handler) LLMStreamHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("llm stream handler")
	if !h.requireUpstreamKey(w) {
		return
	}

	req, err := decodeProxyRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, badRequestMessage(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	respCh := make(chan string)

	go func() {
		defer close(respCh)

		rf := stream.NewReframer(func(text string) error {
			return send(ctx, respCh, text)
		}, nil)

		err := h.upstream.StreamChat(ctx, h.chatRequest(req), rf)
		sawSentinel := rf.Done()
		if err == nil {
			err = rf.Close()
		}
		if err != nil {
			if ctx.Err() == nil {
				localLogger.Error("Upstream stream error: ", err)
			}
			return
		}
		if sawSentinel {
			_ = send(ctx, respCh, "\n")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			localLogger.Info("Client closed the stream")
			return
		case message, ok := <-respCh:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, message); err != nil {
				localLogger.Warn("Failed to write delta: ", err)
				return
			}
			flusher.Flush()
		}
	}
}

func send(ctx context.Context, ch chan<- string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case ch <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// upstreamMessage is the error text returned to relay callers.
func upstreamMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
