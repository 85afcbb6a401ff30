package widget

import (
	"context"

	"github.com/rlorbach/business-ai-agent/internal/api"
)

type State string

const (
	StateStart               State = "start"
	StateWebsiteAge          State = "website_age"
	StateWebsiteImprovements State = "website_improvements"
	StateAIBusiness          State = "ai_business"
	StateAIBenefits          State = "ai_benefits"
	StateClosing             State = "closing"
	StateContact             State = "contact"
	StateEnded               State = "ended"
)

type EventType string

const (
	EventWebsite           EventType = "website"
	EventAI                EventType = "ai"
	EventSomethingElse     EventType = "something_else"
	EventAgeChosen         EventType = "age_chosen"
	EventBusinessSubmitted EventType = "business_submitted"
	EventRetry             EventType = "retry"
	EventFallback          EventType = "fallback"
	EventAccept            EventType = "accept"
	EventDecline           EventType = "decline"
	EventRestart           EventType = "restart"
	EventOpenContact       EventType = "open_contact"
	EventContactSubmitted  EventType = "contact_submitted"
)

// Event is a user action. Value carries the chosen option or typed text.
type Event struct {
	Type    EventType
	Value   string
	Contact ContactForm
}

type ContactForm struct {
	Name  string
	Email string
	Note  string
}

type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

type Message struct {
	Role Role
	Text string
}

type ControlKind int

const (
	ControlButton ControlKind = iota
	ControlInput
	ControlForm
)

// Control is one interactive element. Buttons dispatch Event as is; inputs
// and forms fill in Value or Contact from what the user typed.
type Control struct {
	Kind        ControlKind
	Label       string
	Placeholder string
	Primary     bool
	Event       Event
}

// View is a snapshot of everything a renderer needs.
type View struct {
	State      State
	Transcript []Message
	Live       string
	Streaming  bool
	Controls   []Control
}

type Renderer interface {
	Render(View)
	Alert(string)
}

// Opener opens the contact page in an external browser.
type Opener interface {
	Open(url string) error
}

// Session holds per-session flags. Tailored starts from configuration and
// only ever goes from true to false.
type Session struct {
	Tailored  bool
	Streaming bool
}

// Stream is an in-flight streamed relay call.
type Stream interface {
	Cancel()
	Done() <-chan struct{}
	Err() error
}

type Relay interface {
	Stream(ctx context.Context, prompt string, onChunk func(string)) (Stream, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

type apiRelay struct {
	client *api.Client
}

// NewRelay adapts the relay client to the controller.
func NewRelay(client *api.Client) Relay {
	return apiRelay{client: client}
}

func (r apiRelay) Stream(ctx context.Context, prompt string, onChunk func(string)) (Stream, error) {
	h, err := r.client.Stream(ctx, prompt, onChunk)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r apiRelay) Complete(ctx context.Context, prompt string) (string, error) {
	return r.client.Complete(ctx, prompt)
}
