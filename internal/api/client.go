package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	serverClient "github.com/rlorbach/business-ai-agent/internal/api/server/client"
	"github.com/rlorbach/business-ai-agent/internal/logger"
)

// DefaultTimeout bounds every relay call made by the widget.
const DefaultTimeout = 30 * time.Second

var (
	ErrTimeout    = errors.New("request timeout")
	ErrCancelled  = errors.New("stream cancelled")
	ErrIncomplete = errors.New("stream ended before completion")
)

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("LLM proxy error: %d", e.StatusCode)
	}
	return fmt.Sprintf("LLM proxy error: %d: %s", e.StatusCode, e.Message)
}

// Client talks to the relay on behalf of the chat widget.
type Client struct {
	BaseURL      string
	Token        string
	UseWebSocket bool
	Timeout      time.Duration
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer

	logger *logger.Logger
}

func NewClient(baseURL, token string, useWebSocket bool) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		UseWebSocket: useWebSocket,
		Timeout:      DefaultTimeout,
		HTTPClient:   &http.Client{},
		Dialer:       websocket.DefaultDialer,
		logger:       logger.NewLogger("api client"),
	}
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Client) log() *logger.Logger {
	if c.logger == nil {
		c.logger = logger.NewLogger("api client")
	}
	return c.logger
}

func (c *Client) newRequest(ctx context.Context, path, prompt string) (*http.Request, error) {
	requestData, err := json.Marshal(serverClient.ProxyRequest{Prompt: prompt})
	if err != nil {
		return nil, errors.Wrap(err, "serialize request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(requestData))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	var body serverClient.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &StatusError{StatusCode: resp.StatusCode, Message: body.Error}
}

// Complete asks the relay for a buffered reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	req, err := c.newRequest(ctx, "/api/llm", prompt)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", timeoutOr(ctx, errors.Wrap(err, "send request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", timeoutOr(ctx, errors.Wrap(err, "read response"))
	}
	var out serverClient.AssistantResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Assistant == "" {
		return string(body), nil
	}
	return out.Assistant, nil
}

// Stream starts a streamed relay call. onChunk receives text fragments in
// arrival order from a single goroutine and is never called after the handle
// is done. onChunk must not call Cancel itself. The returned error covers only
// failures to open the stream.
func (c *Client) Stream(ctx context.Context, prompt string, onChunk func(string)) (*StreamHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	h := newStreamHandle(ctx, cancel)

	var err error
	if c.UseWebSocket && c.Token != "" {
		err = c.streamSocket(ctx, h, prompt, onChunk)
	} else {
		err = c.streamHTTP(ctx, h, prompt, onChunk)
	}
	if err != nil {
		err = timeoutOr(ctx, err)
		h.finish(err)
		return nil, err
	}
	go h.watch()
	return h, nil
}

func (c *Client) streamHTTP(ctx context.Context, h *StreamHandle, prompt string, onChunk func(string)) error {
	req, err := c.newRequest(ctx, "/api/llm-stream", prompt)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return statusError(resp)
	}
	h.closer = resp.Body

	go func() {
		defer resp.Body.Close()
		var pending []byte
		var last byte
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				last = buf[n-1]
				var text string
				text, pending = decodeUTF8(append(pending, buf[:n]...))
				if text != "" && !h.deliver(onChunk, text) {
					return
				}
			}
			if err == io.EOF {
				if len(pending) > 0 && !h.deliver(onChunk, string(pending)) {
					return
				}
				// The relay ends a completed stream with a newline; a body
				// closed without it means the upstream failed mid-way.
				if last != '\n' {
					c.log().Warn("Stream closed before completion")
					h.finish(ErrIncomplete)
					return
				}
				h.finish(nil)
				return
			}
			if err != nil {
				c.log().Error("Stream read error: ", err)
				h.finish(timeoutOr(ctx, errors.Wrap(err, "read stream")))
				return
			}
		}
	}()
	return nil
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse backend url")
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {c.Token}}.Encode()
	return u.String(), nil
}

func (c *Client) streamSocket(ctx context.Context, h *StreamHandle, prompt string, onChunk func(string)) error {
	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial relay")
	}
	h.closer = conn

	id := uuid.NewString()
	if err := conn.WriteJSON(serverClient.ProxyRequest{ID: id, Prompt: prompt}); err != nil {
		conn.Close()
		return errors.Wrap(err, "send prompt")
	}

	go func() {
		defer conn.Close()
		for {
			var msg serverClient.SocketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					h.finish(nil)
					return
				}
				h.finish(timeoutOr(ctx, errors.Wrap(err, "read socket")))
				return
			}
			if msg.ID != "" && msg.ID != id {
				continue
			}
			switch msg.Type {
			case serverClient.MessageDelta:
				if !h.deliver(onChunk, msg.Text) {
					return
				}
			case serverClient.MessageDone:
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				h.finish(nil)
				return
			case serverClient.MessageError:
				c.log().Error("WS proxy error: ", msg.Error)
				h.finish(errors.Errorf("relay error: %s", msg.Error))
				return
			}
		}
	}()
	return nil
}

// decodeUTF8 splits b into complete text and a trailing incomplete rune.
func decodeUTF8(b []byte) (string, []byte) {
	end := len(b)
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				end = len(b) - i
			}
			break
		}
	}
	rest := append([]byte(nil), b[end:]...)
	return string(b[:end]), rest
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// StreamHandle is one in-flight streamed relay call.
type StreamHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	closer io.Closer

	mu   sync.Mutex
	done chan struct{}
	err  error

	// deliverMu orders chunk delivery against completion.
	deliverMu sync.Mutex
}

func newStreamHandle(ctx context.Context, cancel context.CancelFunc) *StreamHandle {
	return &StreamHandle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Cancel stops the call and closes the local transport.
func (h *StreamHandle) Cancel() {
	h.finish(ErrCancelled)
}

// Done is closed once the call has completed, failed or been cancelled.
func (h *StreamHandle) Done() <-chan struct{} {
	return h.done
}

// Err reports why the call ended; nil after a successful completion.
func (h *StreamHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the call ends or ctx is done.
func (h *StreamHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch ends the call with ErrTimeout when its deadline passes first.
func (h *StreamHandle) watch() {
	select {
	case <-h.done:
	case <-h.ctx.Done():
		h.finish(timeoutOr(h.ctx, ErrCancelled))
	}
}

// deliver hands text to onChunk unless the handle already finished. finish
// waits for a running delivery, so no chunk arrives after Done is closed.
func (h *StreamHandle) deliver(onChunk func(string), text string) bool {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	if onChunk != nil {
		onChunk(text)
	}
	return true
}

func (h *StreamHandle) finish(err error) {
	h.deliverMu.Lock()
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		h.deliverMu.Unlock()
		return
	default:
	}
	h.err = err
	close(h.done)
	h.mu.Unlock()
	h.deliverMu.Unlock()

	h.cancel()
	if h.closer != nil {
		h.closer.Close()
	}
}
