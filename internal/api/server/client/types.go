package client

// ProxyRequest is the body accepted by the relay on every transport.
type ProxyRequest struct {
	ID     string `json:"id,omitempty"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

// AssistantResponse is the buffered relay reply.
type AssistantResponse struct {
	Assistant string `json:"assistant"`
}

// ErrorResponse is the JSON body of every relay error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Socket message types.
const (
	MessageDelta = "delta"
	MessageDone  = "done"
	MessageError = "error"
)

// SocketMessage is one server to client WebSocket frame.
type SocketMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// HealthResponse is returned by the status endpoint.
type HealthResponse struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	Endpoints []string `json:"endpoints"`
	Model     string   `json:"model,omitempty"`
}
