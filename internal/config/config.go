package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultPort        = 8787
	DefaultModel       = "gpt-4o-mini"
	DefaultUpstreamURL = "https://api.openai.com"
	DefaultContactURL  = "https://lorbachdigital.com/contact/"
)

// Server holds the relay settings. It is read once at startup and treated as
// read-only afterwards.
type Server struct {
	Port        int
	OpenAIKey   string
	Model       string
	UpstreamURL string
	ProxyToken  string
	CORSOrigin  string
}

// Widget holds the session-wide settings of the terminal chat widget.
type Widget struct {
	BackendURL   string
	ProxyToken   string
	Tailored     bool
	UseWebSocket bool
	Streaming    bool
	ContactURL   string
	ScriptPath   string
}

// LoadEnv reads a .env file from the working directory when present. Variables
// already set in the environment win.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

func LoadServer() Server {
	return Server{
		Port:        envInt("PORT", DefaultPort),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		Model:       envString("OPENAI_MODEL", DefaultModel),
		UpstreamURL: envString("OPENAI_BASE_URL", DefaultUpstreamURL),
		ProxyToken:  os.Getenv("PROXY_TOKEN"),
		CORSOrigin:  envString("CORS_ORIGIN", "*"),
	}
}

func LoadWidget() Widget {
	return Widget{
		BackendURL:   envString("CHAT_BACKEND_URL", "http://localhost:"+strconv.Itoa(DefaultPort)),
		ProxyToken:   os.Getenv("PROXY_TOKEN"),
		Tailored:     envBool("USE_LLM", false),
		UseWebSocket: envBool("USE_WS", false),
		Streaming:    true,
		ContactURL:   envString("CONTACT_URL", DefaultContactURL),
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
