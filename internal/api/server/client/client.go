package client

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client represents a client for the API
type Client struct {
	base         *url.URL
	http         *http.Client
	chatUrl      *url.URL
	responsesUrl *url.URL
}

// ClientConfig holds the configuration for the client
type ClientConfig struct {
	BaseURL       string
	ChatPath      string
	ResponsesPath string
	HTTPClient    *http.Client
}

// NewClient creates a new API client with configurable base URL and endpoints
func NewClient(config ClientConfig) (*Client, error) {
	baseURL, err := url.Parse(strings.TrimRight(config.BaseURL, "/") + "/")
	if err != nil {
		return nil, err
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:         baseURL,
		http:         httpClient,
		chatUrl:      baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(config.ChatPath, "/")}),
		responsesUrl: baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(config.ResponsesPath, "/")}),
	}, nil
}

func (c *Client) GetChatURL() string {
	return c.chatUrl.String()
}

func (c *Client) GetResponsesURL() string {
	return c.responsesUrl.String()
}
