package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rlorbach/business-ai-agent/internal/api"
	"github.com/rlorbach/business-ai-agent/internal/api/server"
	"github.com/rlorbach/business-ai-agent/internal/config"
	"github.com/rlorbach/business-ai-agent/internal/logger"
	"github.com/rlorbach/business-ai-agent/internal/ui"
	"github.com/rlorbach/business-ai-agent/internal/widget"
)

var (
	dev     bool
	logPath string
)

func init() {
	config.LoadEnv()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "business-ai-agent",
		Short:         "Chat widget and LLM relay for Lorbach Digital",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&dev, "dev", false, "Development mode (debug logging)")
	root.PersistentFlags().StringVar(&logPath, "log-path", "", "Directory for log files")

	root.AddCommand(newServeCmd(), newChatCmd(), newAskCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cfg := config.LoadServer()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the LLM relay (HTTP and WebSocket)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.InitLogger(dev, logPath, nil)
			defer logger.Close()

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Port, "port", cfg.Port, "Listen port (PORT)")
	f.StringVar(&cfg.Model, "model", cfg.Model, "Upstream model (OPENAI_MODEL)")
	f.StringVar(&cfg.UpstreamURL, "upstream-url", cfg.UpstreamURL, "Upstream API base URL (OPENAI_BASE_URL)")
	f.StringVar(&cfg.CORSOrigin, "cors-origin", cfg.CORSOrigin, "Allowed CORS origin (CORS_ORIGIN)")
	return cmd
}

func widgetFlags(cmd *cobra.Command, cfg *config.Widget) {
	f := cmd.Flags()
	f.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "Relay base URL (CHAT_BACKEND_URL)")
	f.StringVar(&cfg.ProxyToken, "token", cfg.ProxyToken, "Relay shared secret (PROXY_TOKEN)")
	f.BoolVar(&cfg.UseWebSocket, "ws", cfg.UseWebSocket, "Stream over WebSocket (USE_WS)")
	f.BoolVar(&cfg.Streaming, "stream", cfg.Streaming, "Stream responses instead of waiting for the full answer")
}

func newChatCmd() *cobra.Command {
	cfg := config.LoadWidget()
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the conversation widget in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			script := widget.DefaultScript()
			if cfg.ScriptPath != "" {
				s, err := widget.LoadScript(cfg.ScriptPath)
				if err != nil {
					return err
				}
				script = s
			}

			view := ui.New(dev)
			logger.InitLogger(dev, logPath, view.DebugConsole())
			defer logger.Close()

			client := api.NewClient(cfg.BackendURL, cfg.ProxyToken, cfg.UseWebSocket)
			ctrl := widget.New(widget.Options{
				Script:     script,
				Session:    widget.Session{Tailored: cfg.Tailored, Streaming: cfg.Streaming},
				Relay:      widget.NewRelay(client),
				Renderer:   view,
				Opener:     ui.BrowserOpener{},
				ContactURL: cfg.ContactURL,
			})
			return view.Run(cmd.Context(), ctrl)
		},
	}
	widgetFlags(cmd, &cfg)
	f := cmd.Flags()
	f.BoolVar(&cfg.Tailored, "tailored", cfg.Tailored, "Ask the relay for tailored answers (USE_LLM)")
	f.StringVar(&cfg.ContactURL, "contact-url", cfg.ContactURL, "Contact page (CONTACT_URL)")
	f.StringVar(&cfg.ScriptPath, "script", "", "YAML file overriding the dialogue")
	return cmd
}

func newAskCmd() *cobra.Command {
	cfg := config.LoadWidget()
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt through the relay and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.InitLogger(dev, logPath, nil)
			defer logger.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			client := api.NewClient(cfg.BackendURL, cfg.ProxyToken, cfg.UseWebSocket)
			if !cfg.Streaming {
				text, err := client.Complete(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, text)
				return nil
			}

			h, err := client.Stream(ctx, args[0], func(chunk string) {
				fmt.Fprint(out, chunk)
			})
			if err != nil {
				return err
			}
			if err := h.Wait(ctx); err != nil {
				return errors.Wrap(err, "stream")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	widgetFlags(cmd, &cfg)
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
