package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rlorbach/business-ai-agent/internal/widget"
)

func TestFormatTranscript(t *testing.T) {
	v := widget.View{
		Transcript: []widget.Message{
			{Role: widget.RoleAgent, Text: "Hi"},
			{Role: widget.RoleUser, Text: "[AI]"},
		},
	}
	assert.Equal(t, "[green::b]Agent:[-:-:-]\nHi\n\n[red::b]You:[-:-:-] [AI[]\n\n", formatTranscript(v))

	v.Streaming = true
	v.Live = "1. Fas"
	assert.Contains(t, formatTranscript(v), "[green::b]Agent:[-:-:-]\n1. Fas▌\n\n")
}

func TestRenderCoalesces(t *testing.T) {
	u := New(false)
	u.Render(widget.View{State: widget.StateStart})
	u.Render(widget.View{State: widget.StateClosing})
	u.Alert("Please include an email.")

	assert.Len(t, u.dirty, 1)
	assert.Equal(t, widget.StateClosing, u.pending.State)
	assert.Equal(t, []string{"Please include an email."}, u.alerts)
}

func TestOpenCommand(t *testing.T) {
	tests := []struct {
		goos string
		name string
		args []string
	}{
		{"linux", "xdg-open", []string{"https://x"}},
		{"darwin", "open", []string{"https://x"}},
		{"windows", "rundll32", []string{"url.dll,FileProtocolHandler", "https://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			name, args := openCommand(tt.goos, "https://x")
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}
}
