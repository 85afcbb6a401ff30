package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/rlorbach/business-ai-agent/internal/logger"
	"github.com/rlorbach/business-ai-agent/internal/stream"
)

// DefaultMaxTokens caps every upstream completion.
const DefaultMaxTokens = 600

// OpenAIClient represents a client for the OpenAI API
type OpenAIClient struct {
	Client
	apiKey string
}

// Upstream is the part of the OpenAI API the relay handlers depend on.
type Upstream interface {
	Complete(ctx context.Context, req *OpenAIChatRequest) ([]byte, error)
	StreamChat(ctx context.Context, req *OpenAIChatRequest, w io.Writer) error
	StreamResponses(ctx context.Context, req *OpenAIResponsesRequest, w io.Writer) error
}

var openAIConfig = ClientConfig{
	ChatPath:      "/v1/chat/completions",
	ResponsesPath: "/v1/responses",
}

// NewOpenAIClient creates a new OpenAI API client. baseURL is the scheme and host
// of an OpenAI compatible API.
func NewOpenAIClient(baseURL, apiKey string) (*OpenAIClient, error) {
	cfg := openAIConfig
	cfg.BaseURL = baseURL
	c, err := NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parse upstream url")
	}
	return &OpenAIClient{
		Client: *c,
		apiKey: apiKey,
	}, nil
}

type OpenAIChatRequest struct {
	Model     string              `json:"model"`
	Messages  []OpenAIChatMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
	Stream    bool                `json:"stream,omitempty"`
}

type OpenAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIResponsesRequest targets the responses endpoint.
type OpenAIResponsesRequest struct {
	Model           string `json:"model"`
	Input           string `json:"input"`
	Instructions    string `json:"instructions,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	Stream          bool   `json:"stream,omitempty"`
}

// APIError is a non-2xx answer from the upstream API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("received non-200 response: %d, error: %s", e.StatusCode, e.Message)
}

// Complete makes a non-streaming chat request and returns the raw response body.
func (c *OpenAIClient) Complete(ctx context.Context, req *OpenAIChatRequest) ([]byte, error) {
	data := *req
	data.Stream = false

	response, err := c.post(ctx, c.GetChatURL(), &data, "application/json")
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read upstream response")
	}
	return body, nil
}

// StreamChat makes a streaming chat request and copies the raw event stream to w.
func (c *OpenAIClient) StreamChat(ctx context.Context, req *OpenAIChatRequest, w io.Writer) error {
	data := *req
	data.Stream = true
	return c.stream(ctx, c.GetChatURL(), &data, w)
}

// StreamResponses makes a streaming responses request and copies the raw event stream to w.
func (c *OpenAIClient) StreamResponses(ctx context.Context, req *OpenAIResponsesRequest, w io.Writer) error {
	data := *req
	data.Stream = true
	return c.stream(ctx, c.GetResponsesURL(), &data, w)
}

// stream returns nil when the body ends or w reports the terminal sentinel.
func (c *OpenAIClient) stream(ctx context.Context, url string, data any, w io.Writer) error {
	response, err := c.post(ctx, url, data, "text/event-stream")
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if _, err := io.Copy(w, response.Body); err != nil {
		if errors.Is(err, stream.ErrTerminated) {
			return nil
		}
		return errors.Wrap(err, "relay upstream stream")
	}
	return nil
}

func (c *OpenAIClient) post(ctx context.Context, url string, data any, accept string) (*http.Response, error) {
	localLogger := logger.NewLogger("openai client")

	bts, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "marshal upstream request")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(bts))
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", accept)
	request.Header.Set("Authorization", "Bearer "+c.apiKey)

	response, err := c.http.Do(request)
	if err != nil {
		return nil, errors.Wrap(err, "upstream request")
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		defer response.Body.Close()
		apiErr := &APIError{StatusCode: response.StatusCode, Message: "unknown error"}

		var errResp map[string]interface{}
		if err := json.NewDecoder(response.Body).Decode(&errResp); err != nil {
			localLogger.Error("Failed to decode error response: ", err)
			return nil, apiErr
		}
		if msg, ok := errResp["error"].(map[string]interface{}); ok {
			if message, exists := msg["message"].(string); exists {
				apiErr.Message = message
			}
		}
		localLogger.Error("Received error response: ", apiErr.Message)
		return nil, apiErr
	}

	return response, nil
}

// AssistantText extracts the assistant's reply from a buffered completion
// body, falling back to the raw payload when no known shape is present. A
// present but empty reply stays empty.
func AssistantText(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	if text, found := stream.FirstPresent(v, stream.CompletionStrategies); found {
		return text
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err == nil {
		return compact.String()
	}
	return string(body)
}
